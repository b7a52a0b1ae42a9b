package conversation

import "context"

// TurnInterpreter is the opaque language-understanding step: given the
// call so far and the latest utterance, it proposes a reply and a state
// delta. The engine never trusts the proposal directly; guards filter it.
type TurnInterpreter interface {
	Interpret(ctx context.Context, call *CallContext, utterance string) (Delta, error)
}
