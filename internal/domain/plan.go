package domain

type PlanName string

const (
	PlanFree PlanName = "free"
	PlanPro  PlanName = "pro"
	// PlanDemo is what every address gets while no store is available.
	PlanDemo PlanName = "demo"
)

// Plan holds the attributes admission and token issuance depend on.
// Zero limits mean unlimited.
type Plan struct {
	Name           PlanName `json:"plan"`
	CallsPerDay    int      `json:"callsPerDay"`
	ReceivesPerDay int      `json:"receivesPerDay"`
	AllowTurn      bool     `json:"allowTurn"`
	AllowVideo     bool     `json:"allowVideo"`
}

func DemoPlan() Plan {
	return Plan{Name: PlanDemo, AllowTurn: true, AllowVideo: true}
}

func ProPlan() Plan {
	return Plan{Name: PlanPro, AllowTurn: true, AllowVideo: true}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func Allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }

func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

type CallDirection string

const (
	Outgoing CallDirection = "outgoing"
	Incoming CallDirection = "incoming"
)
