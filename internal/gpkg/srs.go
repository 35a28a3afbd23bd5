package gpkg

// srsDef is one row of gpkg_spatial_ref_sys.
type srsDef struct {
	Name         string
	ID           int
	Organization string
	OrgCoordsys  int
	Definition   string
	Description  string
}

// requiredSRS are the rows every GeoPackage must carry.
var requiredSRS = []srsDef{
	{
		Name: "WGS 84 geodetic", ID: 4326, Organization: "EPSG", OrgCoordsys: 4326,
		Definition:  wktWGS84,
		Description: "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid",
	},
	{
		Name: "Undefined cartesian SRS", ID: -1, Organization: "NONE", OrgCoordsys: -1,
		Definition: "undefined", Description: "undefined cartesian coordinate reference system",
	},
	{
		Name: "Undefined geographic SRS", ID: 0, Organization: "NONE", OrgCoordsys: 0,
		Definition: "undefined", Description: "undefined geographic coordinate reference system",
	},
}

// knownSRS holds the extra systems the pipeline writes.
var knownSRS = map[int]srsDef{
	4269: {
		Name: "NAD83", ID: 4269, Organization: "EPSG", OrgCoordsys: 4269,
		Definition: wktNAD83,
	},
	5070: {
		Name: "NAD83 / Conus Albers", ID: 5070, Organization: "EPSG", OrgCoordsys: 5070,
		Definition: wktConusAlbers,
	},
}

func lookupSRS(id int) (srsDef, bool) {
	for _, d := range requiredSRS {
		if d.ID == id {
			return d, true
		}
	}
	d, ok := knownSRS[id]
	return d, ok
}

const wktWGS84 = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

const wktNAD83 = `GEOGCS["NAD83",DATUM["North_American_Datum_1983",SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],AUTHORITY["EPSG","6269"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4269"]]`

const wktConusAlbers = `PROJCS["NAD83 / Conus Albers",` + wktNAD83 + `,PROJECTION["Albers_Conic_Equal_Area"],PARAMETER["latitude_of_center",23],PARAMETER["longitude_of_center",-96],PARAMETER["standard_parallel_1",29.5],PARAMETER["standard_parallel_2",45.5],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],AUTHORITY["EPSG","5070"]]`
