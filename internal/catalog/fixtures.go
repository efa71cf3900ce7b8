package catalog

// DemoProducts are the products seeded in development.
var DemoProducts = []Product{
	{ID: 1, Name: "Portátil", Description: "Portátil de 14 pulgadas para clase", PriceCents: 89900},
	{ID: 2, Name: "Ratón", Description: "Ratón inalámbrico", PriceCents: 1999},
	{ID: 3, Name: "Teclado", Description: "Teclado mecánico en español", PriceCents: 5995},
	{ID: 4, Name: "Monitor", Description: "Monitor de 24 pulgadas", PriceCents: 14950},
	{ID: 5, Name: "Auriculares", Description: "Auriculares con micrófono", PriceCents: 2450},
}

// DemoStudents are the students seeded in development.
var DemoStudents = []Student{
	{ID: 1, Name: "Ana García", Email: "ana@aula.local", Course: "DAW"},
	{ID: 2, Name: "Luis Pérez", Email: "luis@aula.local", Course: "DAM"},
	{ID: 3, Name: "Marta López", Email: "marta@aula.local", Course: "DAW"},
}
