package cas

import "testing"

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("payload"))
	b := HashBytes([]byte("payload"))
	if a != b {
		t.Error("identical payloads hashed differently")
	}
	if a == HashBytes([]byte("other payload")) {
		t.Error("distinct payloads collided")
	}
	if a.IsNil() {
		t.Error("real hash compares as nil")
	}
}

func TestHashStringRoundTrip(t *testing.T) {
	h := HashBytes([]byte("round trip"))
	parsed, err := ParseHash(h.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != h {
		t.Errorf("round trip changed the hash: %s -> %s", h, parsed)
	}

	if _, err := ParseHash("zzzz"); err == nil {
		t.Error("expected an error for non-hex input")
	}
	if _, err := ParseHash("abcd"); err == nil {
		t.Error("expected an error for a truncated hash")
	}
}

func TestCanonicalJSONKeyOrder(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{
			name: "sorted keys",
			in:   map[string]interface{}{"b": 2, "a": 1, "c": 3},
			want: `{"a":1,"b":2,"c":3}`,
		},
		{
			name: "nested maps",
			in:   map[string]interface{}{"outer": map[string]interface{}{"z": true, "a": false}},
			want: `{"outer":{"a":false,"z":true}}`,
		},
		{
			name: "array order preserved",
			in:   map[string]interface{}{"items": []interface{}{"c", "a", "b"}},
			want: `{"items":["c","a","b"]}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CanonicalJSON(tc.in)
			if err != nil {
				t.Fatalf("canonical json failed: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestHashJSONIgnoresKeyInsertionOrder(t *testing.T) {
	first := map[string]interface{}{"name": "x", "kind": "y"}
	second := map[string]interface{}{"kind": "y", "name": "x"}

	h1, err := HashJSON(first)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	h2, err := HashJSON(second)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if h1 != h2 {
		t.Error("key insertion order changed the hash")
	}
}

func TestStreamingHasherMatchesHashBytes(t *testing.T) {
	h := NewHasher()
	h.Write([]byte("part one "))
	h.Write([]byte("part two"))
	if SumHasher(h) != HashBytes([]byte("part one part two")) {
		t.Error("streaming hash diverged from one-shot hash")
	}
}
