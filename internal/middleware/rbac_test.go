package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

// gradingApp mounts a jobs route behind the grading role check with the given
// role already resolved, the way the JWT middleware leaves it.
func gradingApp(role interface{}) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if role != nil {
			c.Locals("user_role", role)
		}
		return c.Next()
	})
	app.Use(RequireRole("teacher", "admin"))
	app.Post("/api/v1/jobs", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})
	return app
}

func TestRequireRoleAllowsGradingRoles(t *testing.T) {
	for _, role := range []string{"teacher", "admin", " Teacher "} {
		app := gradingApp(role)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusAccepted, resp.StatusCode, "role %q should be able to start jobs", role)
	}
}

func TestRequireRoleRejectsStudentsAndAnonymous(t *testing.T) {
	for _, role := range []interface{}{"student", "", nil} {
		app := gradingApp(role)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusForbidden, resp.StatusCode, "role %v must not start jobs", role)
	}
}
