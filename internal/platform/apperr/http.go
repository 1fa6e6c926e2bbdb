package apperr

import (
	"github.com/labstack/echo/v4"
)

// ToHTTP converts err into the echo error returned by handlers. The client
// sees only the public message; storage causes ride along as the internal
// error so the request logger records them.
func ToHTTP(err error) error {
	if err == nil {
		return nil
	}
	he := echo.NewHTTPError(HTTPStatus(err), PublicMessage(err))
	if KindOf(err) == KindStorage {
		return he.SetInternal(err)
	}
	return he
}
