// Package undo keeps the local actor's undo/redo stacks. History in the
// operation log is immutable, so undoing never removes anything: each step
// stores the inverse payloads that, submitted as a brand-new change, restore
// the pre-change state. Remote actors' edits are never inverted.
package undo

import "github.com/telescrawl/telescrawl/pkg/op"

const defaultLimit = 100

// Controller is owned by one session and driven from its event loop.
type Controller struct {
	limit     int
	undoStack [][]op.Payload
	redoStack [][]op.Payload
}

func NewController() *Controller {
	return &Controller{limit: defaultLimit}
}

// Record pushes the inverse of a freshly submitted local change and clears
// the redo stack, as any new edit forks away from the undone future.
func (c *Controller) Record(inverse []op.Payload) {
	c.undoStack = append(c.undoStack, inverse)
	if len(c.undoStack) > c.limit {
		c.undoStack = c.undoStack[1:]
	}
	c.redoStack = nil
}

// PopUndo returns the most recent not-yet-undone step. ok is false when
// there is nothing to undo; that is a no-op for callers, not an error.
func (c *Controller) PopUndo() ([]op.Payload, bool) {
	if len(c.undoStack) == 0 {
		return nil, false
	}
	step := c.undoStack[len(c.undoStack)-1]
	c.undoStack = c.undoStack[:len(c.undoStack)-1]
	return step, true
}

// PushRedo records the payloads that re-apply the change just undone.
func (c *Controller) PushRedo(inverse []op.Payload) {
	c.redoStack = append(c.redoStack, inverse)
}

// PopRedo returns the most recently undone step for re-application.
func (c *Controller) PopRedo() ([]op.Payload, bool) {
	if len(c.redoStack) == 0 {
		return nil, false
	}
	step := c.redoStack[len(c.redoStack)-1]
	c.redoStack = c.redoStack[:len(c.redoStack)-1]
	return step, true
}

// PushUndo re-adds a step to the undo stack without disturbing redo state,
// used when a redo completes.
func (c *Controller) PushUndo(inverse []op.Payload) {
	c.undoStack = append(c.undoStack, inverse)
	if len(c.undoStack) > c.limit {
		c.undoStack = c.undoStack[1:]
	}
}

func (c *Controller) CanUndo() bool { return len(c.undoStack) > 0 }
func (c *Controller) CanRedo() bool { return len(c.redoStack) > 0 }
