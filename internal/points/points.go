// Package points реализует арифметику циклического счётчика баллов.
package points

import "fmt"

// DefaultThreshold: после каждого шестого обмена счётчик обнуляется.
const DefaultThreshold = 6

// Counter применяет изменения к циклическому счётчику с порогом Threshold.
// Прямое и обратное преобразования используют одно и то же значение порога.
type Counter struct {
	Threshold int
}

// NewCounter создаёт счётчик и проверяет корректность порога.
func NewCounter(threshold int) (Counter, error) {
	if threshold < 2 {
		return Counter{}, fmt.Errorf("points threshold must be at least 2, got %d", threshold)
	}
	return Counter{Threshold: threshold}, nil
}

// Increment увеличивает значение на единицу по модулю порога.
// reset равен true, если значение перешло через порог и стало нулём.
func (c Counter) Increment(p int) (next int, reset bool) {
	next = (c.normalize(p) + 1) % c.Threshold
	return next, next == 0
}

// Decrement отменяет Increment: из нуля значение переходит в Threshold-1.
// undone равен true, если отменённое увеличение было обнулением.
func (c Counter) Decrement(p int) (next int, undone bool) {
	p = c.normalize(p)
	if p == 0 {
		return c.Threshold - 1, true
	}
	return p - 1, false
}

func (c Counter) normalize(p int) int {
	p %= c.Threshold
	if p < 0 {
		p += c.Threshold
	}
	return p
}

// IncrementTotal увеличивает общий счётчик без обнуления.
func IncrementTotal(total int) int {
	return total + 1
}

// DecrementTotal уменьшает общий счётчик, не опускаясь ниже нуля.
func DecrementTotal(total int) int {
	if total <= 0 {
		return 0
	}
	return total - 1
}
