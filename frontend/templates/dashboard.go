package templates

import (
	"strconv"

	"github.com/a-h/templ"
)

func deleteURL(id uint) templ.SafeURL {
	return templ.SafeURL("/delete/" + strconv.FormatUint(uint64(id), 10))
}
