package association

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/aicontext"
	"github.com/Ramsey-B/fern/pkg/associations"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Register registers association routes. Handlers resolve their services from the request's
// dependency container.
func Register(g *echo.Group) {
	g.POST("/associations", Create)
	g.GET("/associations", Query)
	g.GET("/associations/lookup", Lookup)
	g.GET("/associations/:id", Get)
	g.PATCH("/associations/:id", Update)
	g.DELETE("/associations/:id", Delete)
	g.GET("/entities/:entity_type/:entity_id/context", GetContext)
}

func requireTenant(c echo.Context) (string, error) {
	tenantID := context.GetTenantID(c.Request().Context())
	if tenantID == "" {
		return "", httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}
	return tenantID, nil
}

func badRequest(err error) error {
	return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
}

func serviceUnavailable() error {
	return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
}

// Create links two entities. Responds 201 when a record was inserted and 200 when an existing
// record for the pair was updated.
func Create(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req models.CreateAssociationRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(err)
	}

	ctx, service, err := ectoinject.GetContext[*associations.Service](c.Request().Context())
	if err != nil {
		return serviceUnavailable()
	}

	result, err := service.Create(ctx, tenantID, req)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, result)
}

// Query lists explicit and implicit associations of an entity.
func Query(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	opts, err := parseQueryOptions(c)
	if err != nil {
		return badRequest(err)
	}

	ctx, querier, err := ectoinject.GetContext[associations.Querier](c.Request().Context())
	if err != nil {
		return serviceUnavailable()
	}

	result, err := querier.Query(ctx, tenantID, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func parseQueryOptions(c echo.Context) (models.QueryOptions, error) {
	var opts models.QueryOptions

	kind, err := models.ParseEntityKind(c.QueryParam("entity_type"))
	if err != nil {
		return opts, err
	}
	opts.EntityType = kind
	opts.EntityID = c.QueryParam("entity_id")
	if opts.EntityID == "" {
		return opts, errors.New("entity_id is required")
	}

	if opts.TargetTypes, err = models.ParseEntityKinds(listParam(c, "target_types")); err != nil {
		return opts, err
	}
	for _, v := range listParam(c, "association_types") {
		t := models.AssociationType(v)
		if !t.Valid() {
			return opts, errors.New("unknown association type " + strconv.Quote(v))
		}
		opts.AssociationTypes = append(opts.AssociationTypes, t)
	}
	for _, v := range listParam(c, "strength") {
		s := models.Strength(v)
		if !s.Valid() {
			return opts, errors.New("unknown strength " + strconv.Quote(v))
		}
		opts.Strengths = append(opts.Strengths, s)
	}

	if v := c.QueryParam("include_metadata"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("include_metadata must be a boolean")
		}
		opts.IncludeMetadata = &include
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return opts, errors.New("limit must be a non-negative integer")
		}
		opts.Limit = limit
	}
	return opts, nil
}

// listParam accepts both repeated parameters and comma separated values.
func listParam(c echo.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryParams()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func parseRef(kindParam, id string) (models.EntityRef, error) {
	kind, err := models.ParseEntityKind(kindParam)
	if err != nil {
		return models.EntityRef{}, err
	}
	if id == "" {
		return models.EntityRef{}, errors.New("entity id is required")
	}
	return models.EntityRef{Type: kind, ID: id}, nil
}

// Lookup finds the explicit association for an exact source and target pair.
func Lookup(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	source, err := parseRef(c.QueryParam("source_type"), c.QueryParam("source_id"))
	if err != nil {
		return badRequest(err)
	}
	target, err := parseRef(c.QueryParam("target_type"), c.QueryParam("target_id"))
	if err != nil {
		return badRequest(err)
	}

	ctx, service, err := ectoinject.GetContext[*associations.Service](c.Request().Context())
	if err != nil {
		return serviceUnavailable()
	}

	found, err := service.Find(ctx, tenantID, source, target)
	if err != nil {
		return err
	}
	if found == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "association not found")
	}
	return c.JSON(http.StatusOK, found)
}

func Get(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	ctx, service, err := ectoinject.GetContext[*associations.Service](c.Request().Context())
	if err != nil {
		return serviceUnavailable()
	}

	found, err := service.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, found)
}

func Update(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	var req models.UpdateAssociationRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(err)
	}
	if req.IsEmpty() {
		return httperror.NewHTTPError(http.StatusBadRequest, "no fields to update")
	}

	ctx, service, err := ectoinject.GetContext[*associations.Service](c.Request().Context())
	if err != nil {
		return serviceUnavailable()
	}

	result, err := service.Update(ctx, tenantID, c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Delete removes an explicit association, or with origin=implicit clears the foreign key an
// implicit association was derived from. source_type skips probing for the owning entity;
// source_id and field pin the exact entity and foreign key when the wire id is ambiguous.
func Delete(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	ctx, service, err := ectoinject.GetContext[*associations.Service](c.Request().Context())
	if err != nil {
		return serviceUnavailable()
	}
	id := c.Param("id")

	var result models.MutationResult
	switch origin := models.Origin(c.QueryParam("origin")); origin {
	case "", models.OriginExplicit:
		result, err = service.DeleteExplicit(ctx, tenantID, id)
	case models.OriginImplicit:
		var key *models.ImplicitKey
		if key, err = implicitKey(c, id); err != nil {
			return badRequest(err)
		}
		if key == nil {
			result, err = service.DeleteImplicit(ctx, tenantID, id)
		} else {
			result, err = service.DeleteImplicitKey(ctx, tenantID, *key)
		}
	default:
		return httperror.NewHTTPError(http.StatusBadRequest, "origin must be explicit or implicit")
	}
	if err != nil {
		return err
	}

	if ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx); logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"tenant_id":      tenantID,
			"association_id": result.ID,
		}).Info("Deleted association")
	}
	return c.JSON(http.StatusOK, result)
}

// implicitKey builds the key of an implicit delete from query parameters. It returns nil when
// the wire id alone has to be resolved.
func implicitKey(c echo.Context, id string) (*models.ImplicitKey, error) {
	sourceType := c.QueryParam("source_type")
	sourceID := c.QueryParam("source_id")
	field := c.QueryParam("field")
	if sourceType == "" {
		if sourceID != "" || field != "" {
			return nil, errors.New("source_type is required with source_id or field")
		}
		return nil, nil
	}

	kind, err := models.ParseEntityKind(sourceType)
	if err != nil {
		return nil, err
	}

	var ref models.ImplicitRef
	if sourceID == "" {
		ref, err = models.ParseImplicitID(id)
	} else {
		ref, err = models.ParseImplicitIDWithSource(id, sourceID)
	}
	if err != nil {
		return nil, err
	}
	return &models.ImplicitKey{
		SourceType: kind,
		SourceID:   ref.SourceID,
		Field:      field,
		TargetType: ref.TargetType,
		TargetID:   ref.TargetID,
	}, nil
}

// GetContext returns the AI context of an entity.
func GetContext(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}

	ref, err := parseRef(c.Param("entity_type"), c.Param("entity_id"))
	if err != nil {
		return badRequest(err)
	}
	depth, err := models.ParseContextDepth(c.QueryParam("depth"))
	if err != nil {
		return badRequest(err)
	}

	ctx, contexts, err := ectoinject.GetContext[*aicontext.Service](c.Request().Context())
	if err != nil {
		return serviceUnavailable()
	}

	result, err := contexts.GetAIContext(ctx, tenantID, ref, depth)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
