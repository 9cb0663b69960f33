package gguf

import (
	"reflect"
	"testing"
)

func testKV() map[string]Value {
	return map[string]Value{
		"strings": {
			Type: TypeArray,
			Value: ArrayValue{
				ElemType: TypeString,
				Values:   []any{"a", "b", "c"},
			},
		},
		"ints": {
			Type: TypeArray,
			Value: ArrayValue{
				ElemType: TypeInt32,
				Values:   []any{int32(1), int32(2), int32(3)},
			},
		},
		"mixed": {
			Type: TypeArray,
			Value: ArrayValue{
				ElemType: TypeString,
				Values:   []any{"a", 1},
			},
		},
		"name":  {Type: TypeString, Value: "hello"},
		"count": {Type: TypeUint32, Value: uint32(7)},
		"neg":   {Type: TypeInt32, Value: int32(-3)},
		"scale": {Type: TypeFloat32, Value: float32(0.25)},
		"flag":  {Type: TypeBool, Value: true},
	}
}

func TestGetArray(t *testing.T) {
	kv := testKV()

	strs, ok := GetArray[string](kv, "strings")
	if !ok {
		t.Error("expected ok for strings")
	}
	if !reflect.DeepEqual(strs, []string{"a", "b", "c"}) {
		t.Errorf("got %v, want %v", strs, []string{"a", "b", "c"})
	}

	ints, ok := GetArray[int32](kv, "ints")
	if !ok {
		t.Error("expected ok for ints")
	}
	if !reflect.DeepEqual(ints, []int32{1, 2, 3}) {
		t.Errorf("got %v, want %v", ints, []int32{1, 2, 3})
	}

	if _, ok := GetArray[int32](kv, "strings"); ok {
		t.Error("expected !ok for type mismatch (string array as int32)")
	}
	if _, ok := GetArray[string](kv, "mixed"); ok {
		t.Error("expected !ok for mixed element types")
	}
	if _, ok := GetArray[string](kv, "name"); ok {
		t.Error("expected !ok for non-array value")
	}
	if _, ok := GetArray[string](kv, "missing"); ok {
		t.Error("expected !ok for missing key")
	}
}

func TestScalarGetters(t *testing.T) {
	kv := testKV()

	if s, ok := GetString(kv, "name"); !ok || s != "hello" {
		t.Errorf("GetString: got (%q, %v)", s, ok)
	}
	if _, ok := GetString(kv, "count"); ok {
		t.Error("GetString on u32 should fail")
	}
	if n, ok := GetUint64(kv, "count"); !ok || n != 7 {
		t.Errorf("GetUint64: got (%d, %v)", n, ok)
	}
	if _, ok := GetUint64(kv, "neg"); ok {
		t.Error("GetUint64 on negative should fail")
	}
	if n, ok := GetInt64(kv, "neg"); !ok || n != -3 {
		t.Errorf("GetInt64: got (%d, %v)", n, ok)
	}
	if f, ok := GetFloat64(kv, "scale"); !ok || f != 0.25 {
		t.Errorf("GetFloat64: got (%g, %v)", f, ok)
	}
	if b, ok := GetBool(kv, "flag"); !ok || !b {
		t.Errorf("GetBool: got (%v, %v)", b, ok)
	}
}

func TestMustGetters(t *testing.T) {
	kv := testKV()

	if _, err := MustGetString(kv, "name"); err != nil {
		t.Errorf("MustGetString: %v", err)
	}
	if _, err := MustGetString(kv, "missing"); err == nil {
		t.Error("MustGetString should fail for missing key")
	}
	if _, err := MustGetUint64(kv, "count"); err != nil {
		t.Errorf("MustGetUint64: %v", err)
	}
	if _, err := MustGetArray[string](kv, "strings"); err != nil {
		t.Errorf("MustGetArray: %v", err)
	}
	if _, err := MustGetArray[string](kv, "missing"); err == nil {
		t.Error("MustGetArray should fail for missing key")
	}
}
