package httpapi

import "errors"

var (
	errBadDays  = errors.New("httpapi: days must be a positive integer")
	errNoTabIDs = errors.New("httpapi: ids must be a non-empty array")
)
