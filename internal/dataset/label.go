package dataset

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var labelPattern = regexp.MustCompile(`^.*\((\d+)\s*-\s*(\d+)\).*$`)

// LabelError reports a folder name that does not carry a "(min-max)" range.
type LabelError struct {
	Name string
}

func (e *LabelError) Error() string {
	return fmt.Sprintf("folder name %q does not match pattern 'name(min-max)'", e.Name)
}

// ParseLabel extracts the shelf-life midpoint from a folder name such as
// "Apple(1-5)" or "Banana (2 - 7) batch b". When several ranges appear, the
// last one wins.
func ParseLabel(name string) (float64, error) {
	m := labelPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, &LabelError{Name: name}
	}
	lo, ok := new(big.Int).SetString(m[1], 10)
	if !ok {
		return 0, &LabelError{Name: name}
	}
	hi, ok := new(big.Int).SetString(m[2], 10)
	if !ok {
		return 0, &LabelError{Name: name}
	}
	sum := new(big.Float).SetInt(new(big.Int).Add(lo, hi))
	mid, _ := sum.Quo(sum, big.NewFloat(2)).Float64()
	return mid, nil
}

var titleCaser = cases.Title(language.English)

// ProduceName returns a display name for the produce in a folder name, the
// text before the label range in title case. "green apple (1-5)" becomes
// "Green Apple".
func ProduceName(folder string) string {
	name := folder
	if idx := strings.LastIndex(name, "("); idx >= 0 {
		name = name[:idx]
	}
	name = strings.Join(strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(name)), " ")
	if name == "" {
		return folder
	}
	return titleCaser.String(name)
}
