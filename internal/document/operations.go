// Package document defines the invertible edit operations proposed by
// pipeline stages and the executor that applies them to the host document as
// atomic, undoable batches.
package document

import (
	"fmt"

	"quill/internal/types"
)

// Kind tags the operation variant.
type Kind int

const (
	// KindInsertText inserts text at a position.
	KindInsertText Kind = iota
	// KindDeleteText removes known text at a position.
	KindDeleteText
	// KindReplaceText swaps the text covered by a range.
	KindReplaceText
	// KindFormatRange changes one formatting attribute over a range.
	KindFormatRange
	// KindCreateTable inserts a table object at a position.
	KindCreateTable
	// KindCreateChart inserts a chart object at a position.
	KindCreateChart
	// KindRemoveObject removes a previously created table or chart. Emitted
	// only as the inverse of a creation.
	KindRemoveObject
)

func (k Kind) String() string {
	switch k {
	case KindInsertText:
		return "insert_text"
	case KindDeleteText:
		return "delete_text"
	case KindReplaceText:
		return "replace_text"
	case KindFormatRange:
		return "format_range"
	case KindCreateTable:
		return "create_table"
	case KindCreateChart:
		return "create_chart"
	case KindRemoveObject:
		return "remove_object"
	default:
		return "unknown"
	}
}

// Operation is an atomic, invertible document edit. Operations are immutable
// once emitted by a stage; each variant carries the fields needed to both
// apply and invert it.
type Operation interface {
	Kind() Kind
	Describe() string
}

// InsertText inserts Text at Position.
type InsertText struct {
	Position int
	Text     string
}

func (o InsertText) Kind() Kind { return KindInsertText }

func (o InsertText) Describe() string {
	return fmt.Sprintf("insert %d chars at %d", len(o.Text), o.Position)
}

// DeleteText removes Text starting at Position. Carrying the deleted text
// makes the operation self-inverting.
type DeleteText struct {
	Position int
	Text     string
}

func (o DeleteText) Kind() Kind { return KindDeleteText }

func (o DeleteText) Describe() string {
	return fmt.Sprintf("delete %d chars at %d", len(o.Text), o.Position)
}

// ReplaceText replaces Old with New over Range.
type ReplaceText struct {
	Range types.Range
	Old   string
	New   string
}

func (o ReplaceText) Kind() Kind { return KindReplaceText }

func (o ReplaceText) Describe() string {
	return fmt.Sprintf("replace [%d,%d) with %d chars", o.Range.Start, o.Range.End, len(o.New))
}

// FormatRange sets one formatting Attribute to Value over Range. Previous
// records the attribute value before the edit for inversion.
type FormatRange struct {
	Range     types.Range
	Attribute string
	Value     string
	Previous  string
}

func (o FormatRange) Kind() Kind { return KindFormatRange }

func (o FormatRange) Describe() string {
	return fmt.Sprintf("format [%d,%d) %s=%s", o.Range.Start, o.Range.End, o.Attribute, o.Value)
}

// CreateTable inserts a Rows x Cols table at Position.
type CreateTable struct {
	Position int
	Rows     int
	Cols     int
}

func (o CreateTable) Kind() Kind { return KindCreateTable }

func (o CreateTable) Describe() string {
	return fmt.Sprintf("create %dx%d table at %d", o.Rows, o.Cols, o.Position)
}

// CreateChart inserts a chart of ChartType bound to DataRef at Position.
type CreateChart struct {
	Position  int
	ChartType string
	DataRef   string
}

func (o CreateChart) Kind() Kind { return KindCreateChart }

func (o CreateChart) Describe() string {
	return fmt.Sprintf("create %s chart at %d", o.ChartType, o.Position)
}

// RemoveObject removes the object at Position. Restore holds the creation
// operation so the removal can itself be inverted.
type RemoveObject struct {
	Position int
	Restore  Operation
}

func (o RemoveObject) Kind() Kind { return KindRemoveObject }

func (o RemoveObject) Describe() string {
	return fmt.Sprintf("remove object at %d", o.Position)
}

// Invert returns the operation that undoes op. The switch is exhaustive over
// all kinds; an unknown kind is a programming error.
func Invert(op Operation) (Operation, error) {
	switch o := op.(type) {
	case InsertText:
		return DeleteText{Position: o.Position, Text: o.Text}, nil
	case DeleteText:
		return InsertText{Position: o.Position, Text: o.Text}, nil
	case ReplaceText:
		return ReplaceText{
			Range: types.Range{Start: o.Range.Start, End: o.Range.Start + len(o.New)},
			Old:   o.New,
			New:   o.Old,
		}, nil
	case FormatRange:
		return FormatRange{
			Range:     o.Range,
			Attribute: o.Attribute,
			Value:     o.Previous,
			Previous:  o.Value,
		}, nil
	case CreateTable:
		return RemoveObject{Position: o.Position, Restore: o}, nil
	case CreateChart:
		return RemoveObject{Position: o.Position, Restore: o}, nil
	case RemoveObject:
		if o.Restore == nil {
			return nil, fmt.Errorf("remove_object at %d has no restore operation", o.Position)
		}
		return o.Restore, nil
	default:
		return nil, fmt.Errorf("cannot invert operation of kind %v", op.Kind())
	}
}
