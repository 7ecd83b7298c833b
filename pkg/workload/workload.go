// Package workload implements the synchronous CPU-bound computations served by the lab.
//
// Every function runs on the calling goroutine until done and reports its wall-clock time.
// The algorithms are deliberately naive; their purpose is to consume CPU.
package workload

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"math/rand/v2"
	"time"
)

// Defaults and ceilings applied to request parameters.
const (
	DefaultPiIterations = 1_000_000
	DefaultPrimeLimit   = 100_000
	DefaultHashRounds   = 1_000_000
	DefaultFibonacciN   = 35
	DefaultMatrixSize   = 200

	MaxFibonacciN = 42
	MaxMatrixSize = 500

	// HashSeed is the first input of the hash chain.
	HashSeed = "cpu-chaos-lab-seed"

	sampleSize = 10
)

// PiResult is the outcome of a Leibniz series approximation.
type PiResult struct {
	Pi         float64
	Iterations int
	Elapsed    time.Duration
}

// Pi approximates π by summing the first iterations terms of the Leibniz series.
func Pi(iterations int) PiResult {
	iterations = max(iterations, 0)
	start := time.Now()

	sum := 0.0

	for term := range iterations {
		sign := 1.0
		if term%2 == 1 {
			sign = -1.0
		}

		sum += sign / float64(2*term+1)
	}

	return PiResult{Pi: sum * 4, Iterations: iterations, Elapsed: time.Since(start)}
}

// PrimesResult summarises the primes found up to a limit.
type PrimesResult struct {
	Limit   int
	Count   int
	Largest int
	First   []int
	Last    []int
	Elapsed time.Duration
}

// Primes enumerates every prime in [2, limit] by trial division.
func Primes(limit int) PrimesResult {
	start := time.Now()

	var primes []int

	for candidate := 2; candidate <= limit; candidate++ {
		if isPrime(candidate) {
			primes = append(primes, candidate)
		}
	}

	result := PrimesResult{
		Limit:   limit,
		Count:   len(primes),
		Largest: 0,
		First:   head(primes, sampleSize),
		Last:    tail(primes, sampleSize),
		Elapsed: 0,
	}

	if len(primes) > 0 {
		result.Largest = primes[len(primes)-1]
	}

	result.Elapsed = time.Since(start)

	return result
}

func isPrime(candidate int) bool {
	bound := int(math.Sqrt(float64(candidate)))

	for divisor := 2; divisor <= bound; divisor++ {
		if candidate%divisor == 0 {
			return false
		}
	}

	return true
}

func head(values []int, n int) []int {
	n = min(n, len(values))

	return append([]int{}, values[:n]...)
}

func tail(values []int, n int) []int {
	n = min(n, len(values))

	return append([]int{}, values[len(values)-n:]...)
}

// HashResult is the outcome of a SHA-256 chain.
type HashResult struct {
	Rounds    int
	FinalHash string
	Elapsed   time.Duration
}

// HashStorm feeds HashSeed through SHA-256 rounds times, each digest becoming the next input.
// FinalHash is the hex SHA-256 of the last digest in the chain.
func HashStorm(rounds int) HashResult {
	rounds = max(rounds, 0)
	start := time.Now()

	data := []byte(HashSeed)

	for range rounds {
		digest := sha256.Sum256(data)
		data = digest[:]
	}

	final := sha256.Sum256(data)

	return HashResult{
		Rounds:    rounds,
		FinalHash: hex.EncodeToString(final[:]),
		Elapsed:   time.Since(start),
	}
}

// FibonacciResult is the outcome of a recursive Fibonacci evaluation.
type FibonacciResult struct {
	N       int
	Value   int
	Elapsed time.Duration
}

// Fibonacci computes F(n) by plain recursion. n is clamped to [0, MaxFibonacciN].
func Fibonacci(n int) FibonacciResult {
	n = min(max(n, 0), MaxFibonacciN)
	start := time.Now()

	value := fib(n)

	return FibonacciResult{N: n, Value: value, Elapsed: time.Since(start)}
}

func fib(n int) int {
	if n <= 1 {
		return n
	}

	return fib(n-1) + fib(n-2)
}

// MatrixResult is the outcome of a dense matrix product.
type MatrixResult struct {
	Size    int
	Sample  float64
	Elapsed time.Duration
}

// Matrix multiplies two random size×size matrices with the schoolbook triple loop and
// returns the top-left cell of the product. size is clamped to [1, MaxMatrixSize].
func Matrix(size int) MatrixResult {
	//nolint:gosec // load generation, not cryptography.
	return MatrixWithSource(size, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

// MatrixWithSource is Matrix with a caller-supplied random source.
func MatrixWithSource(size int, rng *rand.Rand) MatrixResult {
	size = min(max(size, 1), MaxMatrixSize)
	start := time.Now()

	left := randomMatrix(size, rng)
	right := randomMatrix(size, rng)
	product := make([][]float64, size)

	for row := range size {
		product[row] = make([]float64, size)

		for col := range size {
			sum := 0.0
			for k := range size {
				sum += left[row][k] * right[k][col]
			}

			product[row][col] = sum
		}
	}

	return MatrixResult{Size: size, Sample: product[0][0], Elapsed: time.Since(start)}
}

func randomMatrix(size int, rng *rand.Rand) [][]float64 {
	matrix := make([][]float64, size)

	for row := range size {
		matrix[row] = make([]float64, size)

		for col := range size {
			matrix[row][col] = rng.Float64()
		}
	}

	return matrix
}
