// Package acmeerr provides a closed enumeration of the symbolic error kinds
// used throughout the autotls module. It replaces ad-hoc error strings and
// the source implementation's "symbol.for(name)" workaround with a typed,
// errors.Is-compatible tagged variant.
package acmeerr

// Kind identifies one of the symbolic error categories.
type Kind string

const (
	KindUndefinedOrNull   Kind = "UndefinedOrNullError"
	KindUndefined         Kind = "UndefinedError"
	KindArgument          Kind = "ArgumentError"
	KindMustUseFactory    Kind = "MustBeInstantiatedViaAsyncFactoryMethodError"
	KindSingletonPrivate  Kind = "SingletonConstructorIsPrivateError"
	KindStaticClass       Kind = "StaticClassCannotBeInstantiatedError"
	KindUnsupportedIdentity Kind = "UnsupportedIdentityType"
	KindReadOnlyAccessor  Kind = "ReadOnlyAccessorError"
	KindClassNotInitialised Kind = "ClassNotInitialisedError"
	KindAlreadyInitialised Kind = "AlreadyInitialisedError"
	KindAccountNotSet     Kind = "AccountNotSetError"
	KindNotInitialised    Kind = "NotInitialisedError"
	KindRequest           Kind = "RequestError"
	KindCertificateParse  Kind = "CertificateParseError"
	KindDomainsNotStrings Kind = "DomainsArrayIsNotAnArrayOfStringsError"
	KindSNIIgnoreUnsupportedDomain Kind = "SNIIgnoreUnsupportedDomainError"
	KindPollTimeout       Kind = "PollTimeoutError"
)

// Problem mirrors the fields of an ACME problem document (RFC 7807) that
// RequestError preserves verbatim from the server.
type Problem struct {
	Type   string
	Detail string
	Status int
}

// Error is the concrete error type for every symbolic kind in this package.
type Error struct {
	Kind    Kind
	Message string
	Problem *Problem
	Err     error
}

func (e *Error) Error() string {
	if e.Problem != nil {
		return e.Kind.String() + ": " + e.Message + " (" + e.Problem.Type + ": " + e.Problem.Detail + ")"
	}
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, allowing
// errors.Is(err, acmeerr.New(acmeerr.KindRequest, "")) style comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (k Kind) String() string {
	return string(k)
}

// New builds an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind that wraps an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewRequestError builds a RequestError carrying the server's problem
// document, preserved verbatim.
func NewRequestError(statusCode int, problem *Problem) *Error {
	msg := "unexpected HTTP status"
	if problem != nil {
		msg = problem.Detail
	}
	return &Error{Kind: KindRequest, Message: msg, Problem: problem}
}

// Is reports whether err is, or wraps, an *Error of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
