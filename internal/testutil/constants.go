// Package testutil provides common constants, builders and fakes for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second

	// TestDimensions is the embedding width used by test fixtures
	TestDimensions = 4

	// TestExampleCount is a common number of test examples to create
	TestExampleCount = 10

	// TestLargeExampleCount is a large number of test examples for concurrency tests
	TestLargeExampleCount = 200
)

// Common test strings
const (
	// TestQuestion is a default natural-language question
	TestQuestion = "total order value per customer region"

	// TestSQL is a default example query
	TestSQL = "SELECT c.region, SUM(o.total) FROM shop.orders o JOIN shop.customers c ON o.customer_id = c.id GROUP BY c.region"

	// TestDescription is a default example description
	TestDescription = "Revenue per region"
)
