package events

// CaseCategory distinguishes the standard claim flow from the two narrower
// sub-flows layered on top of it.
type CaseCategory string

const (
	CategoryStandard     CaseCategory = "standard"
	CategoryAcceleration CaseCategory = "acceleration"
	CategoryChangeOrder  CaseCategory = "change-order"
)

// Method selects how a compensation claim is quantified.
type Method string

const (
	MethodDirectSum    Method = "direct-sum"
	MethodCostEstimate Method = "cost-estimate"
)

// GateOutcome is the result of one independent sub-decision inside a
// response. Empty means the gate was not evaluated.
type GateOutcome string

const (
	GateAccepted GateOutcome = "accepted"
	GateRejected GateOutcome = "rejected"
	GateWaived   GateOutcome = "waived"
)

// ResponseResult is the overall conclusion a response states for a track.
type ResponseResult string

const (
	ResultApproved          ResponseResult = "approved"
	ResultPartiallyApproved ResponseResult = "partially-approved"
	ResultRejected          ResponseResult = "rejected"
	ResultNegotiation       ResponseResult = "under-negotiation"
)

// Payload is implemented by every kind-specific payload shape.
type Payload interface {
	Validate() error
}

// CaseCreated opens a case. Exactly one per case, always at seq 1.
type CaseCreated struct {
	Title       string       `json:"title"`
	Category    CaseCategory `json:"category" enum:"standard,acceleration,change-order"`
	ExternalRef string       `json:"external_ref,omitempty"`
}

func (p CaseCreated) Validate() error {
	if p.Title == "" {
		return &ValidationError{Kind: KindCaseCreated, Reason: "title is required"}
	}
	switch p.Category {
	case CategoryStandard, CategoryAcceleration, CategoryChangeOrder:
		return nil
	}
	return &ValidationError{Kind: KindCaseCreated, Reason: "unknown category " + string(p.Category)}
}

// BasisClaim establishes liability grounds for the contract event.
type BasisClaim struct {
	Track       Track  `json:"track,omitempty"`
	Ground      string `json:"ground"`
	Description string `json:"description,omitempty"`
	ContractRef string `json:"contract_ref,omitempty"`
	NotifiedAt  string `json:"notified_at,omitempty" format:"date-time"`
}

func (p BasisClaim) Validate() error {
	if p.Ground == "" {
		return &ValidationError{Kind: KindBasisSubmitted, Reason: "ground is required"}
	}
	if p.Track != "" && p.Track != TrackBasis {
		return &ValidationError{Kind: KindBasisSubmitted, Reason: "track must be basis"}
	}
	return nil
}

// ClaimLine is one priced item in a direct-sum compensation claim.
type ClaimLine struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// CompensationClaim quantifies the monetary adjustment. Direct-sum claims
// carry priced lines; cost-estimate claims carry a single estimate. The
// deduction is recorded as stated, never folded into the gross figure.
type CompensationClaim struct {
	Track     Track       `json:"track,omitempty"`
	Method    Method      `json:"method" enum:"direct-sum,cost-estimate"`
	Lines     []ClaimLine `json:"lines,omitempty"`
	Estimate  float64     `json:"estimate,omitempty"`
	Deduction float64     `json:"deduction,omitempty"`
}

func (p CompensationClaim) Validate() error {
	switch p.Method {
	case MethodDirectSum:
		if len(p.Lines) == 0 {
			return &ValidationError{Kind: KindCompensationSubmitted, Reason: "direct-sum claim requires lines"}
		}
	case MethodCostEstimate:
		if p.Estimate <= 0 {
			return &ValidationError{Kind: KindCompensationSubmitted, Reason: "cost-estimate claim requires a positive estimate"}
		}
	default:
		return &ValidationError{Kind: KindCompensationSubmitted, Reason: "unknown method " + string(p.Method)}
	}
	if p.Track != "" && p.Track != TrackCompensation {
		return &ValidationError{Kind: KindCompensationSubmitted, Reason: "track must be compensation"}
	}
	return nil
}

// Gross is the claimed amount before deduction.
func (p CompensationClaim) Gross() float64 {
	if p.Method == MethodCostEstimate {
		return p.Estimate
	}
	var sum float64
	for _, l := range p.Lines {
		sum += l.Amount
	}
	return sum
}

// DeadlineClaim notifies a schedule extension. Days may be zero on the
// initial notice; deadline.specified quantifies it later.
type DeadlineClaim struct {
	Track   Track  `json:"track,omitempty"`
	Days    int    `json:"days,omitempty"`
	Interim bool   `json:"interim,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (p DeadlineClaim) Validate() error {
	if p.Days < 0 {
		return &ValidationError{Kind: KindDeadlineSubmitted, Reason: "days must not be negative"}
	}
	if p.Track != "" && p.Track != TrackDeadline {
		return &ValidationError{Kind: KindDeadlineSubmitted, Reason: "track must be deadline"}
	}
	return nil
}

// DeadlineSpecified quantifies a previously noticed extension.
type DeadlineSpecified struct {
	Track Track `json:"track,omitempty"`
	Days  int   `json:"days"`
}

func (p DeadlineSpecified) Validate() error {
	if p.Days <= 0 {
		return &ValidationError{Kind: KindDeadlineSpecified, Reason: "days must be positive"}
	}
	if p.Track != "" && p.Track != TrackDeadline {
		return &ValidationError{Kind: KindDeadlineSpecified, Reason: "track must be deadline"}
	}
	return nil
}

// Withdrawal retracts a track explicitly.
type Withdrawal struct {
	Track  Track  `json:"track,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (p Withdrawal) Validate() error { return nil }

// SubsidiaryPosition is the alternate standpoint the owner records in case
// the principal rejection is later overturned. It is folded into state as-is
// and never merged with the principal fields.
type SubsidiaryPosition struct {
	Result    ResponseResult `json:"result"`
	Amount    float64        `json:"amount,omitempty"`
	Days      int            `json:"days,omitempty"`
	Rationale string         `json:"rationale,omitempty"`
}

func (p SubsidiaryPosition) validate(kind Kind) error {
	if !validResult(p.Result) {
		return &ValidationError{Kind: kind, Reason: "subsidiary result " + string(p.Result) + " is not valid"}
	}
	return nil
}

// BasisResponse answers a basis claim with a single decision plus optional
// re-categorization of the case.
type BasisResponse struct {
	Track         Track          `json:"track,omitempty"`
	Result        ResponseResult `json:"result,omitempty" enum:"approved,partially-approved,rejected,under-negotiation"`
	Waived        bool           `json:"waived,omitempty"`
	Recategorized CaseCategory   `json:"recategorized,omitempty"`
}

func (p BasisResponse) Validate() error {
	if p.Result != "" && !validResult(p.Result) {
		return &ValidationError{Kind: KindBasisResponse, Reason: "result " + string(p.Result) + " is not valid"}
	}
	if p.Recategorized != "" {
		switch p.Recategorized {
		case CategoryStandard, CategoryAcceleration, CategoryChangeOrder:
		default:
			return &ValidationError{Kind: KindBasisResponse, Reason: "unknown category " + string(p.Recategorized)}
		}
	}
	if p.Track != "" && p.Track != TrackBasis {
		return &ValidationError{Kind: KindBasisResponse, Reason: "track must be basis"}
	}
	return nil
}

// LineAssessment is the owner's per-line amount assessment.
type LineAssessment struct {
	Description    string  `json:"description,omitempty"`
	ApprovedAmount float64 `json:"approved_amount"`
}

// CompensationResponse carries the layered decision on a compensation claim:
// three independent timeliness gates, a method-acceptance gate, per-line
// assessments, the stated aggregate result and an optional subsidiary block.
type CompensationResponse struct {
	Track              Track               `json:"track,omitempty"`
	MainNotice         GateOutcome         `json:"main_notice,omitempty" enum:"accepted,rejected,waived"`
	SiteCostNotice     GateOutcome         `json:"site_cost_notice,omitempty" enum:"accepted,rejected,waived"`
	ProductivityNotice GateOutcome         `json:"productivity_notice,omitempty" enum:"accepted,rejected,waived"`
	MethodAccepted     GateOutcome         `json:"method_accepted,omitempty" enum:"accepted,rejected,waived"`
	Lines              []LineAssessment    `json:"lines,omitempty"`
	Result             ResponseResult      `json:"result,omitempty" enum:"approved,partially-approved,rejected,under-negotiation"`
	ApprovedAmount     float64             `json:"approved_amount,omitempty"`
	Deduction          float64             `json:"deduction,omitempty"`
	Subsidiary         *SubsidiaryPosition `json:"subsidiary,omitempty"`
}

func (p CompensationResponse) Validate() error {
	for _, g := range []GateOutcome{p.MainNotice, p.SiteCostNotice, p.ProductivityNotice, p.MethodAccepted} {
		if !validGate(g) {
			return &ValidationError{Kind: KindCompensationResponse, Reason: "gate outcome " + string(g) + " is not valid"}
		}
	}
	if p.Result != "" && !validResult(p.Result) {
		return &ValidationError{Kind: KindCompensationResponse, Reason: "result " + string(p.Result) + " is not valid"}
	}
	if p.Subsidiary != nil {
		if err := p.Subsidiary.validate(KindCompensationResponse); err != nil {
			return err
		}
	}
	if p.Track != "" && p.Track != TrackCompensation {
		return &ValidationError{Kind: KindCompensationResponse, Reason: "track must be compensation"}
	}
	return nil
}

// DeadlineResponse carries the layered decision on a deadline claim: notice
// timeliness, condition/causation, day quantification, and an optional
// subsidiary block.
type DeadlineResponse struct {
	Track      Track               `json:"track,omitempty"`
	NoticeGate GateOutcome         `json:"notice_gate,omitempty" enum:"accepted,rejected,waived"`
	Condition  GateOutcome         `json:"condition,omitempty" enum:"accepted,rejected,waived"`
	Days       int                 `json:"days,omitempty"`
	Result     ResponseResult      `json:"result,omitempty" enum:"approved,partially-approved,rejected,under-negotiation"`
	Subsidiary *SubsidiaryPosition `json:"subsidiary,omitempty"`
}

func (p DeadlineResponse) Validate() error {
	if !validGate(p.NoticeGate) || !validGate(p.Condition) {
		return &ValidationError{Kind: KindDeadlineResponse, Reason: "gate outcome is not valid"}
	}
	if p.Days < 0 {
		return &ValidationError{Kind: KindDeadlineResponse, Reason: "days must not be negative"}
	}
	if p.Result != "" && !validResult(p.Result) {
		return &ValidationError{Kind: KindDeadlineResponse, Reason: "result " + string(p.Result) + " is not valid"}
	}
	if p.Subsidiary != nil {
		if err := p.Subsidiary.validate(KindDeadlineResponse); err != nil {
			return err
		}
	}
	if p.Track != "" && p.Track != TrackDeadline {
		return &ValidationError{Kind: KindDeadlineResponse, Reason: "track must be deadline"}
	}
	return nil
}

// AccelerationRequest asks the claimant to accelerate instead of receiving a
// time extension, against offered compensation.
type AccelerationRequest struct {
	Days        int     `json:"days"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
}

func (p AccelerationRequest) Validate() error {
	if p.Days <= 0 {
		return &ValidationError{Kind: KindAccelerationRequested, Reason: "days must be positive"}
	}
	if p.Amount < 0 {
		return &ValidationError{Kind: KindAccelerationRequested, Reason: "amount must not be negative"}
	}
	return nil
}

// AccelerationDecision concludes an acceleration request.
type AccelerationDecision struct {
	Amount float64 `json:"amount,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

func (p AccelerationDecision) Validate() error {
	if p.Amount < 0 {
		return &ValidationError{Kind: KindAccelerationAccepted, Reason: "amount must not be negative"}
	}
	return nil
}

// ChangeOrder is a directed change to the contracted work.
type ChangeOrder struct {
	Reference   string  `json:"reference"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	Days        int     `json:"days,omitempty"`
}

func (p ChangeOrder) Validate() error {
	if p.Reference == "" {
		return &ValidationError{Kind: KindChangeOrderIssued, Reason: "reference is required"}
	}
	return nil
}

// ChangeOrderDecision accepts or disputes an issued change order.
type ChangeOrderDecision struct {
	Reason string `json:"reason,omitempty"`
}

func (p ChangeOrderDecision) Validate() error { return nil }

func validGate(g GateOutcome) bool {
	switch g {
	case "", GateAccepted, GateRejected, GateWaived:
		return true
	}
	return false
}

func validResult(r ResponseResult) bool {
	switch r {
	case ResultApproved, ResultPartiallyApproved, ResultRejected, ResultNegotiation:
		return true
	}
	return false
}
