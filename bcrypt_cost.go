//go:build !race

package auth

const defaultHashCost = 12
