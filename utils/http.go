// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by outbound fetches such as the catalog document.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
