package osm

const sampleMap = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
 <bounds minlat="47.3700000" minlon="8.5400000" maxlat="47.3800000" maxlon="8.5500000"/>
 <node id="1" lat="47.3710000" lon="8.5410000"/>
 <node id="2" lat="47.3720000" lon="8.5420000"/>
 <node id="3" lat="47.3730000" lon="8.5410000"/>
 <way id="10">
  <nd ref="1"/>
  <nd ref="2"/>
  <tag k="highway" v="residential"/>
  <tag k="name" v="Main St"/>
 </way>
 <way id="11">
  <nd ref="1"/>
  <nd ref="2"/>
  <nd ref="3"/>
  <nd ref="1"/>
  <tag k="building" v="yes"/>
  <tag k="building:levels" v="3"/>
 </way>
</osm>`
