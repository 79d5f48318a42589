package wal

import (
	"errors"
	"fmt"

	azStorageBlob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

const (
	azblobBlobNotFound          = "BlobNotFound"
	azblobConditionNotMet       = "ConditionNotMet"
	azblobBlobAlreadyExists     = "BlobAlreadyExists"
	azblobTargetConditionNotMet = "TargetConditionNotMet"
)

// AsStorageError returns the azure storage error carried by err, if any.
func AsStorageError(err error) (azStorageBlob.StorageError, bool) {
	serr := &azStorageBlob.StorageError{}
	//nolint
	ierr, ok := err.(*azStorageBlob.InternalError)
	if ierr == nil || !ok {
		return azStorageBlob.StorageError{}, false
	}
	if !ierr.As(&serr) {
		return azStorageBlob.StorageError{}, false
	}
	return *serr, true
}

func storageErrorCode(err error) string {
	serr, ok := AsStorageError(err)
	if !ok {
		return ""
	}
	return string(serr.ErrorCode)
}

// wrapReadError translates the azure blob not found error to ErrNotFound. All
// other errors are returned as is, including nil.
func wrapReadError(err error) error {
	if err == nil {
		return nil
	}
	if storageErrorCode(err) == azblobBlobNotFound {
		return fmt.Errorf("%s: %w", err.Error(), ErrNotFound)
	}
	return err
}

// wrapWriteError translates the azure precondition failures of a conditional
// put to ErrExistsOC (creating) or ErrContentOC (replacing).
func wrapWriteError(err error, creating bool) error {
	if err == nil {
		return nil
	}
	switch storageErrorCode(err) {
	case azblobConditionNotMet, azblobBlobAlreadyExists, azblobTargetConditionNotMet, azblobBlobNotFound:
		if creating {
			return fmt.Errorf("%s: %w", err.Error(), ErrExistsOC)
		}
		return fmt.Errorf("%s: %w", err.Error(), ErrContentOC)
	}
	return err
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return storageErrorCode(err) == azblobBlobNotFound
}
