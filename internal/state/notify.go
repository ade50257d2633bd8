package state

import (
	"fmt"
	"strconv"
	"strings"
)

// Category classifies outbound chat messages for the notification policy.
type Category int

const (
	CatPermission Category = iota + 1
	CatCompletion
	CatQuestion
	CatError
	CatInterrupted
	CatFocusUpdate
	CatConfirmation
)

var categoryNames = map[Category]string{
	CatPermission:   "permission",
	CatCompletion:   "completion",
	CatQuestion:     "question",
	CatError:        "error",
	CatInterrupted:  "interrupted",
	CatFocusUpdate:  "focus-update",
	CatConfirmation: "confirmation",
}

func (c Category) Valid() bool { return c >= CatPermission && c <= CatConfirmation }

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return "category-" + strconv.Itoa(int(c))
}

// AllCategories is every category in order.
func AllCategories() []Category {
	out := make([]Category, 0, len(categoryNames))
	for c := CatPermission; c <= CatConfirmation; c++ {
		out = append(out, c)
	}
	return out
}

// DefaultLoud makes everything the operator must act on, or wants to hear
// about, notify with sound. Focus updates and confirmations stay silent.
func DefaultLoud() map[Category]bool {
	return map[Category]bool{
		CatPermission:  true,
		CatCompletion:  true,
		CatQuestion:    true,
		CatError:       true,
		CatInterrupted: true,
	}
}

// ParseCategories reads a /notification argument: "all", "off", or a list
// of category numbers separated by commas or spaces.
func ParseCategories(arg string) ([]Category, error) {
	arg = strings.TrimSpace(strings.ToLower(arg))
	switch arg {
	case "all":
		return AllCategories(), nil
	case "off", "none":
		return []Category{}, nil
	}
	fields := strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("no categories given")
	}
	seen := map[Category]bool{}
	out := make([]Category, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || !Category(n).Valid() {
			return nil, fmt.Errorf("unknown category %q", f)
		}
		if !seen[Category(n)] {
			seen[Category(n)] = true
			out = append(out, Category(n))
		}
	}
	return out, nil
}
