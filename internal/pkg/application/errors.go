package application

import "fmt"

var ErrValidation = fmt.Errorf("validation failed")
var ErrNotFound = fmt.Errorf("not found")
var ErrConflict = fmt.Errorf("conflict")
var ErrInsufficientStock = fmt.Errorf("insufficient stock")

// ErrConfiguration is returned when reference data the operation depends on, such as
// the inventory catalogue, is missing.
var ErrConfiguration = fmt.Errorf("missing configuration")
