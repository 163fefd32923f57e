package textpatch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DMP implements Codec with diff-match-patch text patches. Hunks are located by
// fuzzy matching, so offsets may drift after earlier edits.
type DMP struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

func NewDMP() *DMP {
	return &DMP{dmp: diffmatchpatch.New()}
}

func (c *DMP) parse(payload string) ([]diffmatchpatch.Patch, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPatch)
	}
	patches, err := c.dmp.PatchFromText(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if len(patches) == 0 {
		return nil, fmt.Errorf("%w: no hunks", ErrInvalidPatch)
	}
	return patches, nil
}

func (c *DMP) Validate(payload string) error {
	_, err := c.parse(payload)
	return err
}

func (c *DMP) Apply(base, payload string) (Result, error) {
	patches, err := c.parse(payload)
	if err != nil {
		return Result{}, err
	}
	text, hunks := c.dmp.PatchApply(patches, base)
	result := Result{Text: text, Hunks: hunks, Clean: true}
	for _, ok := range hunks {
		if !ok {
			result.Clean = false
			break
		}
	}
	if !result.Clean {
		result.Text = base
		return result, fmt.Errorf("%w: %d of %d hunks failed", ErrPatchConflict, failed(hunks), len(hunks))
	}
	return result, nil
}

func (c *DMP) Make(from, to string) string {
	return c.dmp.PatchToText(c.dmp.PatchMake(from, to))
}

func failed(hunks []bool) int {
	n := 0
	for _, ok := range hunks {
		if !ok {
			n++
		}
	}
	return n
}
