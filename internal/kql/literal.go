package kql

import (
	"strconv"

	"github.com/itrimble/SecureWatch-sub004/internal/render"
)

// SQL renders the literal as an inline SQL constant: single-quoted
// strings with doubled quotes, bare numbers and booleans, NULL for the
// null kind.
func (l Literal) SQL() string {
	switch l.Kind {
	case LitString:
		return render.QL(l.Str)
	case LitInt:
		return strconv.FormatInt(l.Int, 10)
	case LitReal:
		return strconv.FormatFloat(l.Real, 'g', -1, 64)
	case LitBool:
		if l.Bool {
			return "TRUE"
		}
		return "FALSE"
	default:
		return "NULL"
	}
}
