package cashu

type ErrCode int

// Error is the typed outcome returned by the mint. Code is stable
// across versions, Detail is the human readable reason.
type Error struct {
	Detail string  `json:"detail"`
	Code   ErrCode `json:"code"`
}

func BuildCashuError(detail string, code ErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

const (
	StandardErrCode ErrCode = 10000
	// These will never be returned in a response.
	// Using them to identify internally where
	// the error originated and log appropriately
	DBErrCode               ErrCode = 1
	LightningBackendErrCode ErrCode = 2

	InvalidProofErrCode      ErrCode = 10003
	InvalidCurvePointErrCode ErrCode = 10004

	ProofAlreadyUsedErrCode        ErrCode = 11001
	InsufficientProofAmountErrCode ErrCode = 11002
	TransactionNotBalancedErrCode  ErrCode = 11003
	UnitErrCode                    ErrCode = 11005
	AmountLimitExceededErrCode     ErrCode = 11006
	PaymentMethodErrCode           ErrCode = 11007

	UnknownKeysetErrCode  ErrCode = 12001
	InactiveKeysetErrCode ErrCode = 12002

	MintQuoteRequestNotPaidErrCode ErrCode = 20001
	MintQuoteAlreadyIssuedErrCode  ErrCode = 20002
	MintingDisabledErrCode         ErrCode = 20003
	MeltQuotePendingErrCode        ErrCode = 20005
	MeltQuoteAlreadyPaidErrCode    ErrCode = 20006
	QuoteExpiredErrCode            ErrCode = 20007
	LightningPaymentErrCode        ErrCode = 20008
	QuoteErrCode                   ErrCode = 20009
)

var (
	StandardErr                  = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr                 = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	UnknownKeysetErr             = Error{Detail: "unknown keyset", Code: UnknownKeysetErrCode}
	InactiveKeysetErr            = Error{Detail: "keyset is not accepted", Code: InactiveKeysetErrCode}
	PaymentMethodNotSupportedErr = Error{Detail: "payment method not supported", Code: PaymentMethodErrCode}
	UnitNotSupportedErr          = Error{Detail: "unit not supported", Code: UnitErrCode}
	InvalidBlindedMessageAmount  = Error{Detail: "invalid amount in blinded message", Code: StandardErrCode}
	InvalidCurvePointErr         = Error{Detail: "invalid curve point", Code: InvalidCurvePointErrCode}
	AmountsDoNotMatch            = Error{Detail: "input and output amounts do not match", Code: TransactionNotBalancedErrCode}
	MintQuoteRequestNotPaid      = Error{Detail: "quote request has not been paid", Code: MintQuoteRequestNotPaidErrCode}
	MintQuoteAlreadyIssued       = Error{Detail: "quote already issued", Code: MintQuoteAlreadyIssuedErrCode}
	MintingDisabled              = Error{Detail: "minting is disabled", Code: MintingDisabledErrCode}
	MintAmountExceededErr        = Error{Detail: "max amount for minting exceeded", Code: AmountLimitExceededErrCode}
	MeltAmountExceededErr        = Error{Detail: "max amount for melting exceeded", Code: AmountLimitExceededErrCode}
	OutputsOverQuoteAmountErr    = Error{Detail: "sum of the output amounts is greater than quote amount", Code: TransactionNotBalancedErrCode}
	ProofAlreadyUsedErr          = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	ProofPendingErr              = Error{Detail: "proof is pending", Code: ProofAlreadyUsedErrCode}
	InvalidProofErr              = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	NoProofsProvided             = Error{Detail: "no proofs provided", Code: InvalidProofErrCode}
	DuplicateProofs              = Error{Detail: "duplicate proofs", Code: InvalidProofErrCode}
	DuplicateOutputs             = Error{Detail: "duplicate blinded messages", Code: StandardErrCode}
	QuoteNotExistErr             = Error{Detail: "quote does not exist", Code: QuoteErrCode}
	QuoteExpiredErr              = Error{Detail: "quote has expired", Code: QuoteExpiredErrCode}
	MeltQuotePending             = Error{Detail: "quote is pending", Code: MeltQuotePendingErrCode}
	MeltQuoteAlreadyPaid         = Error{Detail: "quote already paid", Code: MeltQuoteAlreadyPaidErrCode}
	LightningPaymentErr          = Error{Detail: "lightning payment failed", Code: LightningPaymentErrCode}
	InsufficientProofsAmount     = Error{
		Detail: "amount of input proofs is below amount needed for transaction",
		Code:   InsufficientProofAmountErrCode,
	}
)
