package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

var ErrorUnauthorized = errors.New("unauthorized")
