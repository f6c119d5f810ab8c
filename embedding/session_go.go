//go:build !ORT

package embedding

import "github.com/knights-analytics/hugot"

func newSession() (*hugot.Session, error) {
	return hugot.NewGoSession()
}
