package weather

import "github.com/2beens/stridewatch/internal/workout"

type Description struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type Main struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	Pressure  float64 `json:"pressure"`
	Humidity  float64 `json:"humidity"`
}

type Coordinate struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

type Wind struct {
	Speed float64 `json:"speed"`
	Deg   float64 `json:"deg"`
}

type ApiResponse struct {
	Cod                 int           `json:"cod"`
	Coord               Coordinate    `json:"coord"`
	Main                Main          `json:"main"`
	WeatherDescriptions []Description `json:"weather"`
	Wind                Wind          `json:"wind"`
	Dt                  int           `json:"dt"`
	Timezone            int           `json:"timezone"`
	ID                  int           `json:"id"`
	Name                string        `json:"name"`
}

// Conditions picks the first weather description; the icon code is the symbol.
func (r *ApiResponse) Conditions() (*workout.Conditions, error) {
	if len(r.WeatherDescriptions) == 0 {
		return nil, ErrNoData
	}
	d := r.WeatherDescriptions[0]
	return &workout.Conditions{
		Temperature: r.Main.Temp,
		Symbol:      d.Icon,
		Description: d.Description,
	}, nil
}
