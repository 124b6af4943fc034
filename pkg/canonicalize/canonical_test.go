package canonicalize

import (
	"crypto/sha256"
	"testing"
)

func TestJSONKeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": map[string]interface{}{"z": 1, "y": 2}}
	b := map[string]interface{}{"c": map[string]interface{}{"y": 2, "z": 1}, "a": 2, "b": 1}

	ja, err := JSON(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	jb, err := JSON(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(ja) != string(jb) {
		t.Fatalf("canonical forms differ: %s vs %s", ja, jb)
	}
}

func TestJSONHashStability(t *testing.T) {
	payload := map[string]interface{}{"destination_country_code": "US", "data_categories": []interface{}{"email", "name"}}

	j1, err := JSON(payload)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	j2, err := JSON(payload)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	h1 := sha256.Sum256(j1)
	h2 := sha256.Sum256(j2)
	if h1 != h2 {
		t.Fatalf("hash not stable across repeated canonicalization")
	}
}

func TestJSONArraysPreserveOrder(t *testing.T) {
	a := []interface{}{"x", "y", "z"}
	j, err := JSON(a)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(j) != `["x","y","z"]` {
		t.Fatalf("array order not preserved: %s", j)
	}
}
