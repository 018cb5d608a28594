package pipeline

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// FileError ties a per-file failure to its work item.
type FileError struct {
	Key string
	Err error
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.Key, e.Err) }

func (e *FileError) Unwrap() error { return e.Err }

// PassError is returned once at the end of a pass that hit non-fatal errors.
// The lock was released and the offending items are still queued.
type PassError struct {
	Errors *multierror.Error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("pass finished with %d error(s): %s", len(e.Errors.Errors), e.Errors.Error())
}

func (e *PassError) Unwrap() error { return e.Errors }

// ErrorCollector aggregates non-fatal errors from every stage of a pass.
type ErrorCollector struct {
	mu     sync.Mutex
	result *multierror.Error
}

// Add records err; nil is ignored.
func (c *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = multierror.Append(c.result, err)
}

// AddFile records a failure of the work item at key.
func (c *ErrorCollector) AddFile(key string, err error) {
	if err == nil {
		return
	}
	c.Add(&FileError{Key: key, Err: err})
}

func (c *ErrorCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return 0
	}
	return len(c.result.Errors)
}

// Err returns a *PassError, or nil when nothing was collected.
func (c *ErrorCollector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result.ErrorOrNil() == nil {
		return nil
	}
	return &PassError{Errors: c.result}
}
