package handler

import (
	"net/http"

	"github.com/dukerupert/huddle/internal/model"
)

func ListSports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.Sports)
}
