package textbuf

import "errors"

// Common errors for history operations.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// maxUndoGroups bounds the undo stack.
const maxUndoGroups = 1000

// edit is one recorded replacement.
type edit struct {
	offset  int
	oldText string
	newText string
}

// group is one undo step.
type group []edit

// history keeps undo and redo stacks. Grouping nests; edits recorded while
// any group is open join the outermost one.
type history struct {
	undo  []group
	redo  []group
	depth int
	open  group
}

func (h *history) record(e edit) {
	h.redo = nil
	if h.depth > 0 {
		h.open = append(h.open, e)
		return
	}
	h.push(group{e})
}

func (h *history) push(g group) {
	if len(g) == 0 {
		return
	}
	h.undo = append(h.undo, g)
	if len(h.undo) > maxUndoGroups {
		h.undo = h.undo[len(h.undo)-maxUndoGroups:]
	}
}

// BeginUndoGroup starts grouping edits into one undo step.
func (b *Buffer) BeginUndoGroup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history.depth++
}

// EndUndoGroup closes the group opened by the matching BeginUndoGroup.
func (b *Buffer) EndUndoGroup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := &b.history
	if h.depth == 0 {
		return
	}
	h.depth--
	if h.depth == 0 {
		h.push(h.open)
		h.open = nil
	}
}

// Undo reverts the last undo step and places the caret at its start.
func (b *Buffer) Undo() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := &b.history
	if len(h.undo) == 0 {
		return ErrNothingToUndo
	}
	g := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]

	caret := 0
	for i := len(g) - 1; i >= 0; i-- {
		e := g[i]
		b.replace(e.offset, e.offset+len(e.newText), e.oldText)
		caret = e.offset + len(e.oldText)
	}
	b.selStart, b.selEnd = caret, caret
	h.redo = append(h.redo, g)
	return nil
}

// Redo reapplies the last undone step.
func (b *Buffer) Redo() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := &b.history
	if len(h.redo) == 0 {
		return ErrNothingToRedo
	}
	g := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]

	caret := 0
	for _, e := range g {
		b.replace(e.offset, e.offset+len(e.oldText), e.newText)
		caret = e.offset + len(e.newText)
	}
	b.selStart, b.selEnd = caret, caret
	h.undo = append(h.undo, g)
	return nil
}

// UndoDepth returns the number of undo steps.
func (b *Buffer) UndoDepth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history.undo)
}
