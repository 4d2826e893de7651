package repository

import "errors"

var (
	ErrEmailNotFound     = errors.New("email not found")
	ErrFolderNotFound    = errors.New("folder not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrOperationNotFound = errors.New("operation not found")
	ErrInvalidInput      = errors.New("invalid input parameters")
)
