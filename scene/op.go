package scene

import (
	"encoding/json"
	"fmt"
)

type OpKind string

const (
	OpDefine        OpKind = "define"
	OpOver          OpKind = "over"
	OpDelete        OpKind = "delete"
	OpRename        OpKind = "rename"
	OpSetAttr       OpKind = "setAttr"
	OpSetTimeSample OpKind = "setTime"
	OpRemoveAttr    OpKind = "removeAttr"
	OpSetActive     OpKind = "setActive"
	OpSetKind       OpKind = "setKind"
	OpAddReference  OpKind = "addRef"
)

// Op is one replicable layer mutation. Type holds the node type for
// define and the value type for setAttr/setTime. Name holds the attribute
// name, or the new node name for rename.
type Op struct {
	Kind  OpKind
	Path  Path
	Type  string
	Name  string
	Time  *float64
	Value any
	Ref   *Reference
}

type opJSON struct {
	Op    OpKind          `json:"op"`
	Path  Path            `json:"path"`
	Type  string          `json:"type,omitempty"`
	Name  string          `json:"name,omitempty"`
	Time  *float64        `json:"time,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Ref   *Reference      `json:"ref,omitempty"`
}

func (op Op) MarshalJSON() ([]byte, error) {
	j := opJSON{Op: op.Kind, Path: op.Path, Type: op.Type, Name: op.Name, Time: op.Time, Ref: op.Ref}
	if op.Value != nil {
		raw, err := MarshalValue(op.Value)
		if err != nil {
			return nil, fmt.Errorf("op %s %s: %w", op.Kind, op.Path, err)
		}
		j.Value = raw
	}
	switch op.Kind {
	case OpSetAttr, OpSetTimeSample:
		if j.Type == "" && op.Value != nil {
			t, err := ValueTypeName(op.Value)
			if err != nil {
				return nil, fmt.Errorf("op %s %s: %w", op.Kind, op.Path, err)
			}
			j.Type = t
		}
	}
	return json.Marshal(&j)
}

func (op *Op) UnmarshalJSON(data []byte) error {
	var j opJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*op = Op{Kind: j.Op, Path: j.Path, Type: j.Type, Name: j.Name, Time: j.Time, Ref: j.Ref}
	if j.Value == nil {
		return nil
	}
	switch j.Op {
	case OpSetAttr, OpSetTimeSample:
		v, err := DecodeValue(j.Type, j.Value)
		if err != nil {
			return fmt.Errorf("op %s %s: %w", j.Op, j.Path, err)
		}
		op.Value = v
	case OpSetActive:
		var b bool
		if err := json.Unmarshal(j.Value, &b); err != nil {
			return fmt.Errorf("op setActive %s: %w", j.Path, err)
		}
		op.Value = b
	case OpSetKind:
		var s string
		if err := json.Unmarshal(j.Value, &s); err != nil {
			return fmt.Errorf("op setKind %s: %w", j.Path, err)
		}
		op.Value = s
	}
	return nil
}
