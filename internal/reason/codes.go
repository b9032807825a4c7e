package reason

// Code is a machine-readable denial identifier attached to every receipt.
// The set is closed: clients may rely on it.
type Code string

// Admission failures (before routing).
const (
	CodeOK           Code = "OK"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeAgentBlocked Code = "AGENT_BLOCKED"
	CodeRateLimited  Code = "RATE_LIMITED"
)

// Routing failures.
const (
	CodeRouteNotFound       Code = "ROUTE_NOT_FOUND"
	CodeSSRFBlocked         Code = "SSRF_BLOCKED"
	CodeX402UpstreamBlocked Code = "X402_UPSTREAM_BLOCKED"
)

// Idempotency failures.
const (
	CodeReplayDetected Code = "REPLAY_DETECTED"
)

// Mandate failures.
const (
	CodeMandateExpired         Code = "MANDATE_EXPIRED"
	CodeEndpointNotAllowlisted Code = "ENDPOINT_NOT_ALLOWLISTED"
	CodeMandateBudgetExceeded  Code = "MANDATE_BUDGET_EXCEEDED"
	CodeMandateConfirmRequired Code = "MANDATE_CONFIRM_REQUIRED"
	CodeInvalidSignature       Code = "INVALID_SIGNATURE"
)

// Payment and upstream failures.
const (
	CodeInvalidPayment        Code = "INVALID_PAYMENT"
	CodeUpstreamErrorNoCharge Code = "UPSTREAM_ERROR_NO_CHARGE"
)

// Fallback for genuinely unexpected faults.
const (
	CodeInternalError Code = "INTERNAL_ERROR"
)

// HTTPStatus returns the HTTP status code emitted alongside this denial.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeOK:
		return 200
	case CodeUnauthorized:
		return 401

	// 402 Payment Required - x402 challenge/response
	case CodeInvalidPayment:
		return 402

	// 403 Forbidden - blocklist and mandate denials
	case CodeAgentBlocked,
		CodeMandateExpired,
		CodeEndpointNotAllowlisted,
		CodeMandateBudgetExceeded,
		CodeMandateConfirmRequired,
		CodeInvalidSignature:
		return 403

	case CodeRouteNotFound:
		return 404

	// 409 Conflict - duplicate fingerprint within TTL
	case CodeReplayDetected:
		return 409

	case CodeRateLimited:
		return 429

	// 400 Bad Request - route registration refused by admission predicates
	case CodeSSRFBlocked, CodeX402UpstreamBlocked:
		return 400

	// 502 Bad Gateway - upstream transport failure
	case CodeUpstreamErrorNoCharge:
		return 502

	default:
		return 500
	}
}

// IsDenial reports whether the code is an expected pipeline denial rather
// than an internal fault. Denials are normal control flow and are logged
// at info level.
func (c Code) IsDenial() bool {
	switch c {
	case CodeOK, CodeInternalError, CodeUpstreamErrorNoCharge:
		return false
	default:
		return true
	}
}
