package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/wotrack_backend/utils"
)

// ErrNoProcessDefinition is wrapped by the ConfigError returned for an unknown product.
var ErrNoProcessDefinition = errors.New("no process definition")

// ErrDuplicateOrder is returned by CreateOrder when the (product, WO ID) key already exists.
var ErrDuplicateOrder = errors.New("order already exists")

// MissingRequiredColumnsError stops an import before any row is processed.
type MissingRequiredColumnsError struct {
	Missing []string
}

func (e *MissingRequiredColumnsError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

// ValidationError is collected per row and column; it never aborts a batch.
type ValidationError struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("row %d, column %q: %s", e.Row, e.Column, e.Message)
}

type OrderNotFoundError struct {
	Key OrderKey
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.Key)
}

func (e *OrderNotFoundError) Is(target error) bool {
	return target == utils.ErrorRecordNotFound
}

// ConfigError reports a missing or malformed process definition.
type ConfigError struct {
	ProductId string
	Reason    string
	Err       error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("process definition %q: %s", e.ProductId, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StorageError wraps an opaque failure from the order store or audit sink.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

type UnknownStepError struct {
	ProductId string
	Step      string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("step %q is not defined for product %q", e.Step, e.ProductId)
}

type InvalidActionError struct {
	Action string
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action %q: %s", e.Action, e.Reason)
}

type InvalidCommentError struct {
	Reason string
}

func (e *InvalidCommentError) Error() string {
	return "invalid comment: " + e.Reason
}
