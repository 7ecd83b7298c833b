// Package burn starts, tracks and kills background processes that saturate CPU cores.
package burn

import "math/big"

const (
	// WorkerFlag is the hidden command-line flag that turns the service binary into a burn worker.
	WorkerFlag = "--burn-worker"

	factorialOperand = 5000
	roundsPerPass    = 1000
)

// Spin runs the burn worker body. It never returns; the owning process ends it with SIGKILL.
func Spin() {
	for {
		spinPass(roundsPerPass)
	}
}

func spinPass(rounds int) *big.Int {
	var result *big.Int

	for range rounds {
		result = factorial(factorialOperand)
	}

	return result
}

func factorial(n int64) *big.Int {
	if n < 2 {
		return big.NewInt(1)
	}

	return new(big.Int).MulRange(1, n)
}
