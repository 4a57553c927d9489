/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package column defines the typed columns of a metric record and the merge operations
// applied when two records of the same aggregation bucket are combined.
package column

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	String Type = iota
	Int
	Long
	Double
)

type (
	// Type is the semantic type of a column.
	Type uint8

	// Column binds a name and a type to the operation used to merge two values of it.
	Column struct {
		Name      string
		Type      Type
		Operation Operation
	}
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Long:
		return "long"
	case Double:
		return "double"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func NewString(name string, op Operation) Column {
	return Column{Name: name, Type: String, Operation: op}
}

func NewInt(name string, op Operation) Column {
	return Column{Name: name, Type: Int, Operation: op}
}

func NewLong(name string, op Operation) Column {
	return Column{Name: name, Type: Long, Operation: op}
}

func NewDouble(name string, op Operation) Column {
	return Column{Name: name, Type: Double, Operation: op}
}

// Validate checks that the operation is defined for the column type.
// Only Cover and Non make sense for strings.
func (c Column) Validate() error {
	if c.Name == "" {
		return errors.New("column name is empty")
	}
	if c.Operation == nil {
		return errors.Errorf("column %s has no merge operation", c.Name)
	}
	if c.Type > Double {
		return errors.Errorf("column %s has unknown type %d", c.Name, c.Type)
	}
	if c.Type == String && !c.Operation.SupportsString() {
		return errors.Errorf("column %s: operation %s is not defined for string", c.Name, c.Operation.Name())
	}
	return nil
}

func (c Column) String() string {
	return fmt.Sprintf("%s(%s,%s)", c.Name, c.Type, c.Operation.Name())
}
