// Package testutil provides common constants, fakes and builders for tests
package testutil

import "time"

const (
	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second

	// TestDimensions keeps hash embeddings small in tests
	TestDimensions = 64
)

// Questions used across packages
const (
	// QuestionSalesByCustomer should retrieve the orders table
	QuestionSalesByCustomer = "total sales by customer"

	// QuestionUnanswerable names nothing in the shop catalog
	QuestionUnanswerable = "what is the weather on mars"
)
