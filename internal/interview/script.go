// Package interview drives the scripted onboarding questions that bootstrap a
// new store before the conversation switches to free-form customization.
package interview

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Extraction maps a question fragment to the attribute the raw answer fills.
type Extraction struct {
	Fragment string `koanf:"fragment"`
	Field    string `koanf:"field"`
}

// Script is the fixed onboarding sequence plus the texts around it.
type Script struct {
	Locale            string       `koanf:"locale"`
	Welcome           string       `koanf:"welcome"`
	Returning         string       `koanf:"returning"`
	Questions         []string     `koanf:"questions"`
	Extractions       []Extraction `koanf:"extractions"`
	CompletionMarkers []string     `koanf:"completion_markers"`
	Concluding        string       `koanf:"concluding_message"`
	Apology           string       `koanf:"apology"`
	ShopCreated       string       `koanf:"shop_created"`
	ShopFailed        string       `koanf:"shop_failed"`
}

// DefaultScript is the built-in Spanish onboarding script.
func DefaultScript() Script {
	return Script{
		Locale:    "es",
		Welcome:   "¡Hola! Soy tu asistente para crear tu tienda en línea. Vamos a configurarla juntos.",
		Returning: "¡Hola de nuevo! Tu tienda ya está creada. Cuéntame qué te gustaría personalizar: colores, logo, textos o filtros.",
		Questions: []string{
			"¿Cómo se llamará tu tienda?",
			"¿Qué tipo de productos vas a vender?",
			"¿Qué colores representan mejor tu marca?",
			"¿Cuál es el correo de contacto de la tienda?",
			"¿Tienes un eslogan o frase para la portada?",
		},
		Extractions: []Extraction{
			{Fragment: "cómo se llamará", Field: "name"},
			{Fragment: "nombre de tu tienda", Field: "name"},
			{Fragment: "productos vas a vender", Field: "description"},
			{Fragment: "correo de contacto", Field: "contactEmail"},
			{Fragment: "eslogan", Field: "heroTitle"},
		},
		CompletionMarkers: []string{
			"hemos terminado",
			"ya tengo todo",
			"tu tienda está lista",
			"configuración completa",
		},
		Concluding:  "¡Perfecto! Ya tengo todo lo necesario para tu tienda. Cuando quieras, dime \"crear tienda\" y la pongo en marcha.",
		Apology:     "Lo siento, tuve un problema al procesar tu mensaje. ¿Puedes intentarlo de nuevo?",
		ShopCreated: "¡Tu tienda fue creada! Ahora puedes seguir personalizándola cuando quieras.",
		ShopFailed:  "No pude crear tu tienda en este momento. Vuelve a pedírmelo en un momento para intentarlo de nuevo.",
	}
}

// Language returns the script's locale tag, used for case-insensitive matching.
func (s Script) Language() language.Tag {
	if s.Locale == "" {
		return language.Und
	}
	tag, err := language.Parse(s.Locale)
	if err != nil {
		return language.Und
	}
	return tag
}

// WithDefaults fills empty texts from DefaultScript.
func (s Script) WithDefaults() Script {
	d := DefaultScript()
	if s.Welcome == "" {
		s.Welcome = d.Welcome
	}
	if s.Returning == "" {
		s.Returning = d.Returning
	}
	if s.Concluding == "" {
		s.Concluding = d.Concluding
	}
	if s.Apology == "" {
		s.Apology = d.Apology
	}
	if s.ShopCreated == "" {
		s.ShopCreated = d.ShopCreated
	}
	if s.ShopFailed == "" {
		s.ShopFailed = d.ShopFailed
	}
	return s
}

// Validate reports whether the script can drive an interview.
func (s Script) Validate() error {
	if len(s.Questions) == 0 {
		return errors.New("script has no questions")
	}
	for i, q := range s.Questions {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("script question %d is empty", i)
		}
	}
	for _, e := range s.Extractions {
		if strings.TrimSpace(e.Fragment) == "" || strings.TrimSpace(e.Field) == "" {
			return errors.New("script extraction needs both fragment and field")
		}
	}
	return nil
}
