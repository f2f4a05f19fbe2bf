package draft

// Action is one kind of required draft step.
type Action string

const (
	ActionPick        Action = "pick"
	ActionTrash       Action = "trash"
	ActionPickRandom  Action = "pickrandom"
	ActionTrashRandom Action = "trashrandom"
	ActionPass        Action = "pass"
	ActionEndPack     Action = "endpack"
)

// Step is one unit of required action. Amount is the remaining repeat count,
// or nil for non-repeating actions (pass, endpack).
type Step struct {
	Action Action `json:"action"`
	Amount *int   `json:"amount"`
}

func amount(n int) *int { return &n }

// PickStep returns a board-affecting step with the given repeat count.
func PickStep(action Action, n int) Step {
	return Step{Action: action, Amount: amount(n)}
}

// DefaultSteps is the standard schedule for a pack of the given size:
// pick one card then pass, with no pass after the final pick.
func DefaultSteps(packSize int) []Step {
	steps := make([]Step, 0, 2*packSize-1)
	for i := 0; i < packSize; i++ {
		steps = append(steps, PickStep(ActionPick, 1))
		if i < packSize-1 {
			steps = append(steps, Step{Action: ActionPass})
		}
	}
	return steps
}

// BuildStepQueue derives the whole-draft schedule from seat 0's per-pack
// steps, appending an endpack sentinel after each pack. The queue is built
// once at draft start and only ever shrinks from the front.
func BuildStepQueue(packs []Pack) []Step {
	var queue []Step
	for _, pack := range packs {
		steps := pack.Steps
		if len(steps) == 0 {
			steps = DefaultSteps(len(pack.Cards))
		}
		queue = append(queue, steps...)
		queue = append(queue, Step{Action: ActionEndPack})
	}
	return queue
}
