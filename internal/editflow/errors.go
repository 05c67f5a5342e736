package editflow

import "errors"

var ErrInvalidState = errors.New("edit workflow is busy or has no form")
