package schema

import (
	"embed"
	"fmt"
)

// Request schema names.
const (
	LockAcquire   = "lock_acquire"
	LockRelease   = "lock_release"
	StockPut      = "stock_put"
	StockDecrease = "stock_decrease"
)

//go:embed requests/*.json
var requestFS embed.FS

// ValidateRequest checks a raw request body against the named embedded schema.
func ValidateRequest(name string, body []byte) error {
	data, err := requestFS.ReadFile("requests/" + name + ".json")
	if err != nil {
		return fmt.Errorf("unknown request schema %q", name)
	}
	sch, err := Compile("requests/"+name, data)
	if err != nil {
		return err
	}
	return validate(sch, body)
}
