package handlers

import (
	"net/http"

	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/services"
)

type PrivacyHandler struct {
	privacyService services.PrivacyService
}

func NewPrivacyHandler(ps services.PrivacyService) *PrivacyHandler {
	return &PrivacyHandler{privacyService: ps}
}

type ageVerificationInput struct {
	BirthDate string `json:"birth_date"`
}

type parentalConsentInput struct {
	ChildName             string                    `json:"child_name"`
	ChildBirthDate        string                    `json:"child_birth_date"`
	ParentName            string                    `json:"parent_name"`
	ParentSurname         string                    `json:"parent_surname"`
	ParentEmail           string                    `json:"parent_email"`
	ParentPhone           string                    `json:"parent_phone"`
	Relationship          models.ParentRelationship `json:"relationship"`
	PrivacyAccepted       bool                      `json:"privacy_accepted"`
	TermsAccepted         bool                      `json:"terms_accepted"`
	ParentalAuthorization bool                      `json:"parental_authorization"`
}

type deleteAccountInput struct {
	Confirmation string `json:"confirmation"`
}

// VerifyAge godoc
// @Summary      Check the age of a registering user
// @Tags         privacy
// @Accept       json
// @Produce      json
// @Param        request  body  ageVerificationInput  true  "birth date as YYYY-MM-DD"
// @Success      200  {object}  models.AgeCheck
// @Failure      400  {object}  map[string]string
// @Router       /api/privacy/age-verification [post]
func (h *PrivacyHandler) VerifyAge(w http.ResponseWriter, r *http.Request) {
	var input ageVerificationInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	check, err := h.privacyService.VerifyAge(input.BirthDate)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, check, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// RecordParentalConsent godoc
// @Summary      Record a parental consent for the current (minor) user
// @Tags         privacy
// @Accept       json
// @Produce      json
// @Param        request  body  parentalConsentInput  true  "consent form"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/privacy/parental-consents [post]
func (h *PrivacyHandler) RecordParentalConsent(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentPrincipal(w, r)
	if !ok {
		return
	}

	var input parentalConsentInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	consent, err := h.privacyService.RecordParentalConsent(r.Context(), actor, services.ConsentInput{
		ChildName:             input.ChildName,
		ChildBirthDate:        input.ChildBirthDate,
		ParentName:            input.ParentName,
		ParentSurname:         input.ParentSurname,
		ParentEmail:           input.ParentEmail,
		ParentPhone:           input.ParentPhone,
		Relationship:          input.Relationship,
		PrivacyAccepted:       input.PrivacyAccepted,
		TermsAccepted:         input.TermsAccepted,
		ParentalAuthorization: input.ParentalAuthorization,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"consent": consent}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ConfirmParentalConsent godoc
// @Summary      Confirm a parental consent from the emailed link
// @Tags         privacy
// @Produce      json
// @Param        consentID  path   string  true  "consent id"
// @Param        token      query  string  true  "confirmation token"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/privacy/parental-consents/{consentID}/confirm [get]
func (h *PrivacyHandler) ConfirmParentalConsent(w http.ResponseWriter, r *http.Request) {
	consentID, err := getIDFromURL(r, "consentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	consent, err := h.privacyService.ConfirmParentalConsent(r.Context(), consentID, r.URL.Query().Get("token"))
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"success": true, "confirmed_at": consent.ConfirmedAt}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ExportPersonalData godoc
// @Summary      Export every record tied to the current user
// @Tags         privacy
// @Produce      json
// @Success      200  {object}  services.ExportResult
// @Security     BearerAuth
// @Router       /api/privacy/export [get]
func (h *PrivacyHandler) ExportPersonalData(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentPrincipal(w, r)
	if !ok {
		return
	}

	result, err := h.privacyService.ExportPersonalData(r.Context(), actor)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, result, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// DeleteAccount godoc
// @Summary      Delete the current user's account
// @Description  The confirmation field must be exactly ELIMINA.
// @Tags         privacy
// @Accept       json
// @Produce      json
// @Param        request  body  deleteAccountInput  true  "confirmation word"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/privacy/delete-account [post]
func (h *PrivacyHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentPrincipal(w, r)
	if !ok {
		return
	}

	var input deleteAccountInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := h.privacyService.DeleteAccount(r.Context(), actor, input.Confirmation); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"success": true}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
