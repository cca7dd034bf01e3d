package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hupe1980/vaagent/taskstore"
)

func (s *Server) listTasks(c echo.Context) error {
	opts := taskstore.ListOptions{GroupID: c.QueryParam("group_id")}

	if raw := c.QueryParam("status"); raw != "" {
		status, err := taskstore.ParseStatus(raw)
		if err != nil {
			return httpError(err)
		}
		opts.Status = status
	}

	tasks, err := s.tasks.ListTasks(c.Request().Context(), opts)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, nonNil(tasks))
}

func (s *Server) listGroupTasks(c echo.Context) error {
	groupID := c.Param("group_id")

	if _, err := s.tasks.GetGroup(c.Request().Context(), groupID, false); err != nil {
		return httpError(err)
	}

	tasks, err := s.tasks.ListTasks(c.Request().Context(), taskstore.ListOptions{GroupID: groupID})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, nonNil(tasks))
}

func (s *Server) createTask(c echo.Context) error {
	var in taskstore.TaskCreate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	task, err := s.tasks.CreateTask(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, task)
}

func (s *Server) getTask(c echo.Context) error {
	task, err := s.tasks.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, task)
}

func (s *Server) updateTask(c echo.Context) error {
	var in taskstore.TaskUpdate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	task, err := s.tasks.UpdateTask(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c echo.Context) error {
	if err := s.tasks.DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listGroups(c echo.Context) error {
	withTasks, _ := strconv.ParseBool(c.QueryParam("include_tasks"))

	groups, err := s.tasks.ListGroups(c.Request().Context(), withTasks)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, nonNil(groups))
}

func (s *Server) createGroup(c echo.Context) error {
	var in taskstore.GroupCreate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	group, err := s.tasks.CreateGroup(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, group)
}

func (s *Server) getGroup(c echo.Context) error {
	group, err := s.tasks.GetGroup(c.Request().Context(), c.Param("id"), true)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, group)
}

func (s *Server) updateGroup(c echo.Context) error {
	var in taskstore.GroupUpdate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	group, err := s.tasks.UpdateGroup(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, group)
}

func (s *Server) deleteGroup(c echo.Context) error {
	if err := s.tasks.DeleteGroup(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}

	return items
}
