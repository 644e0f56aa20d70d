package chat

import "errors"

// ErrSchema reports a JSON document that matches none of the accepted layouts.
var ErrSchema = errors.New("unrecognized chat document schema")
