package captcha

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strconv"
)

var operators = []string{"+", "-", "×"}

// problem is one arithmetic question and its answer.
type problem struct {
	a, b   int
	op     string
	answer int
}

func (p problem) question() string {
	return fmt.Sprintf("What is %d %s %d?", p.a, p.op, p.b)
}

// newProblem picks two operands in 1..9 and an operator. Subtraction puts
// the larger operand first so the answer is never negative.
func newProblem(r io.Reader) (problem, error) {
	a, err := randInt(r, 9)
	if err != nil {
		return problem{}, err
	}
	b, err := randInt(r, 9)
	if err != nil {
		return problem{}, err
	}
	opIdx, err := randInt(r, len(operators))
	if err != nil {
		return problem{}, err
	}
	a, b = a+1, b+1

	p := problem{a: a, b: b, op: operators[opIdx]}
	switch p.op {
	case "+":
		p.answer = a + b
	case "-":
		if p.a < p.b {
			p.a, p.b = p.b, p.a
		}
		p.answer = p.a - p.b
	case "×":
		p.answer = a * b
	}
	return p, nil
}

func randInt(r io.Reader, n int) (int, error) {
	v, err := rand.Int(r, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// HashAnswer returns the stored form of an answer.
func HashAnswer(answer string) string {
	sum := sha256.Sum256([]byte(answer))
	return hex.EncodeToString(sum[:])
}

func hashInt(n int) string {
	return HashAnswer(strconv.Itoa(n))
}
