package main

import "github.com/imrishuroy/go-storefront-orderflow/internal/apierr"

// outcome of one queued email job
type outcome int

const (
	processed outcome = iota
	dropped           // retrying cannot help
	retry             // leave on the queue for redelivery
)

// error codes that will not change on redelivery
var permanentCodes = map[string]bool{
	apierr.CodeOrderNotFound: true,
	apierr.CodeMissingEmail:  true,
	apierr.CodeValidation:    true,
}
