package domain

// PlacementPhase is the visible stage of an order placement.
type PlacementPhase string

const (
	PhaseIdle              PlacementPhase = "idle"
	PhaseCheckingInventory PlacementPhase = "checkingInventory"
	PhaseProcessingPayment PlacementPhase = "processingPayment"
	PhaseCreatingOrder     PlacementPhase = "creatingOrder"
	PhaseCompleted         PlacementPhase = "completed"
)

func (p PlacementPhase) String() string {
	return string(p)
}
