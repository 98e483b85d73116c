package middleware

import (
	"github.com/jamesmcfarland/keyforge/internal/audit"
	"github.com/labstack/echo/v4"
)

// AdminTenant is recorded for requests made with the admin API key.
const AdminTenant = "admin"

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(e audit.Entry)
}

// Audit records every authenticated request once its response status is
// known. Unauthenticated requests are not recorded here.
func Audit(rec AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			entry := audit.Entry{
				Endpoint:       c.Request().URL.Path,
				Method:         c.Request().Method,
				RequestID:      GetRequestID(c),
				ResponseStatus: c.Response().Status,
				EventType:      audit.CategorizeRequest(c.Request().URL.Path, c.Request().Method),
			}
			switch claims := GetClaims(c); {
			case claims != nil:
				entry.TenantID = claims.TenantID
				entry.Metadata = claims.Metadata
				if claims.RequestID != "" {
					entry.RequestID = claims.RequestID
				}
			case IsAdminKey(c):
				entry.TenantID = AdminTenant
			default:
				return nil
			}
			rec.Record(entry)
			return nil
		}
	}
}
