package sequence

import "errors"

var (
	ErrConfiguration      = errors.New("the snowflake node is not configured correctly")
	ErrPermission         = errors.New("permission denied for sequence")
	ErrReadOnly           = errors.New("cannot execute nextval in a read-only transaction")
	ErrParallelContext    = errors.New("cannot execute nextval during a parallel operation")
	ErrWrongObjectType    = errors.New("the object is not a sequence")
	ErrCorruptStorage     = errors.New("the sequence storage is corrupt")
	ErrUndefinedInSession = errors.New("the value is not yet defined in this session")

	ErrObjectNotFound = errors.New("the object does not exist")
	ErrObjectExists   = errors.New("an object with that name already exists")
	ErrTxnAborted     = errors.New("current transaction is aborted, statements ignored until end of transaction")
	ErrTxnInProgress  = errors.New("there is already a transaction in progress")
	ErrNoTxn          = errors.New("there is no transaction in progress")
	ErrDurability     = errors.New("the durability log could not be written")
	ErrSessionClosed  = errors.New("the session is closed")
	ErrEngineClosed   = errors.New("the engine is closed")
)
