package fleetapi

import (
	"github.com/agentstation/fleethold/pkg/fleet"
)

// Join attaches each car's model to it. Cars whose model is unknown, or
// whose model has no manufacturer, are returned separately and excluded
// from the vehicle list.
func Join(cars []Car, models []Model) (vehicles []fleet.InternalVehicle, missing []Car) {
	byCode := make(map[string]Model, len(models))
	for _, m := range models {
		if _, ok := byCode[m.Code]; !ok {
			byCode[m.Code] = m
		}
	}

	vehicles = make([]fleet.InternalVehicle, 0, len(cars))
	for _, car := range cars {
		model, ok := byCode[car.ModelID]
		if !ok || model.Manufacturer == "" {
			missing = append(missing, car)
			continue
		}
		vehicles = append(vehicles, fleet.InternalVehicle{
			ID:             car.ID,
			PlateNumber:    car.Number,
			Manufacturer:   model.Manufacturer,
			ModelShortName: model.ShortName,
			ModelID:        car.ModelID,
			Specs:          car.Specs,
		})
	}
	return vehicles, missing
}
