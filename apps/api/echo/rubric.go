package echoapi

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/rubric"
)

const yamlMIME = "application/yaml"

type rubricApi struct {
	svc *rubric.Service
}

func registerRubricAPI(g *echo.Group, svc *rubric.Service) {
	api := rubricApi{svc: svc}
	coord := roleMiddleware(core.RoleCoordinator)

	tg := g.Group("/templates")
	tg.GET("", api.queryTemplates, coord)
	tg.POST("", api.createTemplate, coord)
	tg.POST("/import", api.importBlueprint, coord)
	tg.GET("/:id", api.retrieveTemplate, coord)
	tg.PATCH("/:id", api.updateTemplate, coord)
	tg.DELETE("/:id", api.destroyTemplate, coord)
	tg.GET("/:id/export", api.exportBlueprint, coord)
	tg.POST("/:id/recalculate", api.recalculate, coord)
	tg.PUT("/:id/calls/:callID", api.linkCall, coord)
	tg.DELETE("/:id/calls/:callID", api.unlinkCall, coord)
	tg.POST("/:id/categories", api.createCategory, coord)

	g.PUT("/categories/:id", api.updateCategory, coord)
	g.DELETE("/categories/:id", api.destroyCategory, coord)
	g.POST("/categories/:id/subcategories", api.createSubcategory, coord)

	g.PUT("/subcategories/:id", api.updateSubcategory, coord)
	g.DELETE("/subcategories/:id", api.destroySubcategory, coord)
	g.POST("/subcategories/:id/items", api.createItem, coord)

	g.GET("/items/:id", api.retrieveItem, coord)
	g.PUT("/items/:id", api.updateItem, coord)
	g.DELETE("/items/:id", api.destroyItem, coord)
	g.PUT("/items/:id/options", api.setOptions, coord)
	g.GET("/items/:id/dynamic-options", api.dynamicOptions, coord)

	g.GET("/source-collections", api.sourceCollections, coord)
}

// Templates

func (api *rubricApi) queryTemplates(ctx echo.Context) error {
	filter, err := bindTemplateFilter(ctx)
	if err != nil {
		return err
	}
	tpls, err := api.svc.QueryTemplates(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying templates")
	}
	return ctx.JSON(http.StatusOK, tpls)
}

func (api *rubricApi) createTemplate(ctx echo.Context) error {
	var data rubric.NewTemplate
	if err := bindBody(ctx, &data, "template"); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	data.CreatedBy = actor.ID

	tpl, err := api.svc.CreateTemplate(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating template")
	}
	return ctx.JSON(http.StatusCreated, tpl)
}

// retrieveTemplate returns the full tree of the template.
func (api *rubricApi) retrieveTemplate(ctx echo.Context) error {
	tree, err := api.svc.GetTree(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting template tree")
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"tree":               tree,
		"max_possible_score": tree.MaxPossibleScore(),
	})
}

func (api *rubricApi) updateTemplate(ctx echo.Context) error {
	var data rubric.UpdateTemplate
	if err := bindBody(ctx, &data, "template"); err != nil {
		return err
	}
	tpl, err := api.svc.UpdateTemplate(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating template")
	}
	return ctx.JSON(http.StatusOK, tpl)
}

func (api *rubricApi) destroyTemplate(ctx echo.Context) error {
	if err := api.svc.DeleteTemplate(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting template")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *rubricApi) linkCall(ctx echo.Context) error {
	tpl, err := api.svc.LinkCall(ctx.Request().Context(), ctx.Param("id"), ctx.Param("callID"))
	if err != nil {
		return errors.Wrap(err, "linking call")
	}
	return ctx.JSON(http.StatusOK, tpl)
}

func (api *rubricApi) unlinkCall(ctx echo.Context) error {
	tpl, err := api.svc.UnlinkCall(ctx.Request().Context(), ctx.Param("id"), ctx.Param("callID"))
	if err != nil {
		return errors.Wrap(err, "unlinking call")
	}
	return ctx.JSON(http.StatusOK, tpl)
}

func (api *rubricApi) recalculate(ctx echo.Context) error {
	if err := api.svc.Recalculate(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "recalculating template")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *rubricApi) importBlueprint(ctx echo.Context) error {
	bp, err := rubric.DecodeBlueprint(ctx.Request().Body)
	if err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	tree, err := api.svc.ImportBlueprint(ctx.Request().Context(), bp, actor.ID)
	if err != nil {
		return errors.Wrap(err, "importing blueprint")
	}
	return ctx.JSON(http.StatusCreated, tree)
}

func (api *rubricApi) exportBlueprint(ctx echo.Context) error {
	bp, err := api.svc.ExportBlueprint(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "exporting blueprint")
	}
	var buf bytes.Buffer
	if err = bp.Encode(&buf); err != nil {
		return errors.Wrap(err, "encoding blueprint")
	}
	return ctx.Blob(http.StatusOK, yamlMIME, buf.Bytes())
}

// Categories

func (api *rubricApi) createCategory(ctx echo.Context) error {
	var data rubric.NewCategory
	if err := bindBody(ctx, &data, "category"); err != nil {
		return err
	}
	cat, err := api.svc.CreateCategory(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating category")
	}
	return ctx.JSON(http.StatusCreated, cat)
}

func (api *rubricApi) updateCategory(ctx echo.Context) error {
	var data rubric.NewCategory
	if err := bindBody(ctx, &data, "category"); err != nil {
		return err
	}
	cat, err := api.svc.UpdateCategory(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating category")
	}
	return ctx.JSON(http.StatusOK, cat)
}

func (api *rubricApi) destroyCategory(ctx echo.Context) error {
	if err := api.svc.DeleteCategory(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting category")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Subcategories

func (api *rubricApi) createSubcategory(ctx echo.Context) error {
	var data rubric.NewSubcategory
	if err := bindBody(ctx, &data, "subcategory"); err != nil {
		return err
	}
	sub, err := api.svc.CreateSubcategory(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating subcategory")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *rubricApi) updateSubcategory(ctx echo.Context) error {
	var data rubric.NewSubcategory
	if err := bindBody(ctx, &data, "subcategory"); err != nil {
		return err
	}
	sub, err := api.svc.UpdateSubcategory(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating subcategory")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *rubricApi) destroySubcategory(ctx echo.Context) error {
	if err := api.svc.DeleteSubcategory(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting subcategory")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Items

func (api *rubricApi) createItem(ctx echo.Context) error {
	var data rubric.NewItem
	if err := bindBody(ctx, &data, "item"); err != nil {
		return err
	}
	item, err := api.svc.CreateItem(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating item")
	}
	return ctx.JSON(http.StatusCreated, item)
}

func (api *rubricApi) retrieveItem(ctx echo.Context) error {
	item, err := api.svc.GetItem(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting item")
	}
	return ctx.JSON(http.StatusOK, item)
}

func (api *rubricApi) updateItem(ctx echo.Context) error {
	var data rubric.NewItem
	if err := bindBody(ctx, &data, "item"); err != nil {
		return err
	}
	item, err := api.svc.UpdateItem(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating item")
	}
	return ctx.JSON(http.StatusOK, item)
}

func (api *rubricApi) destroyItem(ctx echo.Context) error {
	if err := api.svc.DeleteItem(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting item")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *rubricApi) setOptions(ctx echo.Context) error {
	var data rubric.NewOptions
	if err := bindBody(ctx, &data, "options"); err != nil {
		return err
	}
	item, err := api.svc.SetOptions(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "setting options")
	}
	return ctx.JSON(http.StatusOK, item)
}

func (api *rubricApi) dynamicOptions(ctx echo.Context) error {
	opts, err := api.svc.DynamicOptions(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "resolving dynamic options")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"options": opts})
}

func (api *rubricApi) sourceCollections(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.SourceCollections())
}
